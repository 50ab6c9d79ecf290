package symbols

import "github.com/edgarigl/qemu-etrace/assert"

// UpdateCoverage attributes a span of execution time to sym across the
// word range [start, end). Time is spread evenly across the covered
// words; since the division is integer, whatever remainder is lost
// each pass gets reattributed at 1-per-word in further passes until
// every unit of time is accounted for. The caller is responsible for
// splitting a span at symbol boundaries first -- start and end must
// both fall within [sym.Addr, sym.Addr+sym.Size].
func UpdateCoverage(sym *Sym, start, end uint64, duration uint32) {
	assert.That(start >= sym.Addr, "update coverage: start %#x precedes symbol %s at %#x", start, sym.Name, sym.Addr)
	assert.That(end >= start, "update coverage: end %#x precedes start %#x", end, start)

	startOffset := start - sym.Addr
	length := end - start
	assert.That(startOffset+length <= sym.Size, "update coverage: range exceeds symbol %s bounds", sym.Name)

	sym.TotalTime += uint64(duration)

	if sym.IsUnknown() {
		return
	}

	if sym.Cov == nil {
		allocCov(sym)
	}

	words := length / 4
	if words == 0 {
		return
	}

	timePerWord := uint64(duration) / words
	if timePerWord == 0 && duration != 0 {
		timePerWord = 1
	}

	pos := startOffset / 4

	for i := uint64(0); i < words; i++ {
		sym.CovEnt[pos+i]++
	}

	accounted := uint64(0)
	for {
		for i := uint64(0); i < words; i++ {
			sym.Cov[pos+i] += timePerWord
			accounted += timePerWord
			if accounted >= uint64(duration) {
				break
			}
		}
		if accounted >= uint64(duration) {
			break
		}
		// Granularity error: the first pass's integer division left
		// time unaccounted for. Spread the remainder one unit per
		// word until the books balance exactly.
		timePerWord = 1
	}

	assert.Equal(accounted, uint64(duration), "update coverage: time not fully accounted for")
}
