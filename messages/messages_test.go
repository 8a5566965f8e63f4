package messages

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/narrator/internal/runtime/envelope"
)

func TestCatalogKindsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, msg := range Catalog() {
		kind := msg.Kind()
		require.NotEmpty(t, kind)
		assert.False(t, seen[kind], "duplicate kind %q", kind)
		seen[kind] = true
	}
	assert.Len(t, seen, 4)
}

func TestRoundTripEveryMessage(t *testing.T) {
	book := uuid.New()

	check := func(t *testing.T, in envelope.Message, decode func([]byte) (envelope.Message, error)) {
		t.Helper()
		kind, body, err := envelope.Encode(in)
		require.NoError(t, err)
		assert.Equal(t, in.Kind(), kind)
		assert.NotContains(t, string(body), `"kind"`)
		assert.NotContains(t, string(body), `"type"`)

		out, err := decode(body)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}

	t.Run("phonemize", func(t *testing.T) {
		check(t, &PhonemizeRequest{BookID: book, SectionID: 7, TrackID: 2, Text: "Hello", Voice: "af_bella"},
			func(b []byte) (envelope.Message, error) { return envelope.Decode[*PhonemizeRequest](b) })
	})
	t.Run("phonemes", func(t *testing.T) {
		check(t, &PhonemesResponse{BookID: book, SectionID: 7, Phonemes: "həlˈoʊ", Voice: DefaultVoice},
			func(b []byte) (envelope.Message, error) { return envelope.Decode[*PhonemesResponse](b) })
	})
	t.Run("synthesize", func(t *testing.T) {
		check(t, &SynthesizeRequest{BookID: book, SectionID: 7, TrackID: 3, Phonemes: "x", Speed: 1.25, FilePath: "books/1"},
			func(b []byte) (envelope.Message, error) { return envelope.Decode[*SynthesizeRequest](b) })
	})
	t.Run("speech", func(t *testing.T) {
		check(t, &SpeechResponse{BookID: book, SectionID: 7, TrackID: 3, FilePath: "books/1/3.m4s", Duration: 2.5, Bytes: 4096},
			func(b []byte) (envelope.Message, error) { return envelope.Decode[*SpeechResponse](b) })
	})
}

func TestPhonemizeRequestBodyShape(t *testing.T) {
	_, body, err := envelope.Encode(&PhonemizeRequest{SectionID: 7, Text: "Hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"book_id":"00000000-0000-0000-0000-000000000000","section_id":7,"text":"Hello"}`, string(body))
}

func TestRequiredFieldsAreEnforced(t *testing.T) {
	_, err := envelope.Decode[*PhonemizeRequest]([]byte(`{"section_id":7}`))
	var decodeErr *envelope.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, []string{"Text"}, decodeErr.Fields)
}

func TestVoiceOrDefault(t *testing.T) {
	assert.Equal(t, DefaultVoice, VoiceOrDefault(""))
	assert.Equal(t, "af_bella", VoiceOrDefault("af_bella"))
}

func TestPlatformTopologyBindsEveryKind(t *testing.T) {
	topo := PlatformTopology()
	require.NoError(t, topo.Validate())

	bound := map[string]string{}
	for _, q := range topo.Queues {
		for _, key := range q.RoutingKeys {
			bound[key] = q.Name
		}
	}
	assert.Equal(t, QueuePhonemization, bound[KindPhonemize])
	assert.Equal(t, QueueAPI, bound[KindPhonemes])
	assert.Equal(t, QueueSpeechGeneration, bound[KindSynthesize])
	assert.Equal(t, QueueAPI, bound[KindSpeech])
}
