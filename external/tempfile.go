package external

import "os"

// writeTempInput stages code in a temp file for objdump's "-b binary"
// mode, which requires a seekable file argument rather than a pipe.
func writeTempInput(code []byte) (string, error) {
	f, err := os.CreateTemp("", "qemu-etrace-disas-*.bin")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(code); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func removeTemp(path string) {
	os.Remove(path)
}
