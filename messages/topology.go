package messages

import (
	runtimepkg "github.com/drblury/narrator/internal/runtime"
)

const (
	Exchange = "narrator"

	QueueAPI              = "api"
	QueuePhonemization    = "phonemization"
	QueueSpeechGeneration = "speech-generation"
)

// PlatformTopology returns the exchange and queue bindings shared by every
// narrator process.
func PlatformTopology() runtimepkg.Topology {
	return runtimepkg.Topology{
		Exchange: Exchange,
		Queues: []runtimepkg.QueueBinding{
			{Name: QueueAPI, RoutingKeys: []string{KindPhonemes, KindSpeech}},
			{Name: QueuePhonemization, RoutingKeys: []string{KindPhonemize}},
			{Name: QueueSpeechGeneration, RoutingKeys: []string{KindSynthesize}},
		},
	}
}
