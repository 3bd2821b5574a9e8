//go:build !windows && !darwin && !linux

package input

import "log"

type unavailableSource struct{}

// NewKeySource returns a source that always reports ErrUnavailable
func NewKeySource() KeySource {
	log.Println("Input: Global hooks not supported on this platform.")
	return unavailableSource{}
}

func (unavailableSource) Subscribe(func(KeyEvent)) error { return ErrUnavailable }
func (unavailableSource) UnhookAll()                     {}
