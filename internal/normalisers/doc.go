// Package normalisers provides implementations of the Parser interface
// for the plaintext formats kiln indexes. Each parser splits document
// bytes into ordered blocks with byte offsets; the offsets are what let
// search results point back into the source file.
package normalisers
