// Package curated is a helper package for the plain Go language error type.
// Curated errors implement the error interface.
//
// Curated errors are created with the Errorf() function. This is similar to
// the Errorf() function in the fmt package. It takes a formatting pattern,
// placeholder values and returns an error.
//
// The Is() function can be used to check whether an error was created with a
// particular pattern. For example:
//
//	e := curated.Errorf("unsupported simple trace file version %d", 3)
//
//	if curated.Is(e, "unsupported simple trace file version %d") {
//		fmt.Println("true")
//	}
//
// The Has() function is similar but checks if a pattern occurs somewhere in
// the error chain, and IsAny() answers whether the error was created by
// Errorf() at all (as opposed to some uncurated error from elsewhere).
//
// The Error() function implementation for curated errors ensures that the
// error chain is normalised: it does not contain duplicate adjacent parts
// (the chain is considered to be composed of parts separated by ": ").
package curated
