package test_test

import (
	"testing"

	"github.com/edgarigl/qemu-etrace/internal/test"
)

func TestRingWriter(t *testing.T) {
	r, err := test.NewRingWriter(10)
	test.Equate(t, err, nil)

	test.Equate(t, r.String(), "")

	r.Write([]byte("abcde"))
	test.Equate(t, r.String(), "abcde")

	r.Write([]byte("fgh"))
	test.Equate(t, r.String(), "abcdefgh")

	r.Write([]byte("ij"))
	test.Equate(t, r.String(), "abcdefghij")

	r.Write([]byte("kl"))
	test.Equate(t, r.String(), "cdefghijkl")
	r.Write([]byte("mn"))
	test.Equate(t, r.String(), "efghijklmn")

	r.Write([]byte("1234567890"))
	test.Equate(t, r.String(), "1234567890")

	r.Write([]byte("1234567890ABC"))
	test.Equate(t, r.String(), "4567890ABC")

	r.Reset()
	test.Equate(t, r.String(), "")
	r.Write([]byte("1234567890ABC"))
	test.Equate(t, r.String(), "4567890ABC")
}
