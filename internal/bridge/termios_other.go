//go:build !linux

package bridge

import "os"

func makeRaw(*os.File) error { return nil }

func readTermios(*os.File) (termState, error) {
	return termState{}, errUnsupported
}
