package gemini

import (
	"github.com/searmo/yeiya/pkg/audio"
	"github.com/searmo/yeiya/pkg/provider/s2s"
)

// Frames of the BidiGenerateContent protocol. Only the fields this client
// reads or writes are modelled; unknown server fields are ignored.

// clientFrame is one outbound message. Exactly one field is set.
type clientFrame struct {
	Setup         *setupBody    `json:"setup,omitempty"`
	RealtimeInput *realtimeBody `json:"realtimeInput,omitempty"`
}

type setupBody struct {
	Model             string         `json:"model"`
	GenerationConfig  generationBody `json:"generationConfig"`
	SystemInstruction *content       `json:"systemInstruction,omitempty"`

	// Presence of these empty objects asks the endpoint to transcribe the
	// audio in each direction.
	InputAudioTranscription  *struct{} `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{} `json:"outputAudioTranscription,omitempty"`
}

type generationBody struct {
	ResponseModalities []string    `json:"responseModalities"`
	SpeechConfig       *speechBody `json:"speechConfig,omitempty"`
}

type speechBody struct {
	VoiceConfig voiceBody `json:"voiceConfig"`
}

type voiceBody struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type realtimeBody struct {
	MediaChunks []blob `json:"mediaChunks"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob carries base64 payload bytes.
type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// serverFrame is one inbound message.
type serverFrame struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	Error         *errorBody     `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *errorBody) serverError() *s2s.ServerError {
	return &s2s.ServerError{Code: e.Code, Message: e.Message, Status: e.Status}
}

// setupFrame opens a session for model. An empty voice falls back to
// defaultVoice. Audio sessions ask for transcripts of both directions; a
// text-only session carries neither speech config nor transcription.
func setupFrame(model string, cfg s2s.SessionConfig) clientFrame {
	modality := cfg.ResponseModality
	if modality == "" {
		modality = s2s.ModalityAudio
	}
	body := &setupBody{
		Model:            "models/" + model,
		GenerationConfig: generationBody{ResponseModalities: []string{modality}},
	}
	if modality == s2s.ModalityAudio {
		voice := cfg.Voice
		if voice == "" {
			voice = defaultVoice
		}
		body.GenerationConfig.SpeechConfig = &speechBody{
			VoiceConfig: voiceBody{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: voice}},
		}
		body.InputAudioTranscription = &struct{}{}
		body.OutputAudioTranscription = &struct{}{}
	}
	if cfg.Instructions != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	return clientFrame{Setup: body}
}

// audioFrame wraps one 16 kHz PCM16 chunk.
func audioFrame(pcm []byte) clientFrame {
	return clientFrame{RealtimeInput: &realtimeBody{
		MediaChunks: []blob{{MIMEType: inputMIMEType, Data: audio.BytesToText(pcm)}},
	}}
}

// delivery is one item pulled out of a serverContent message: either a
// speech frame or a transcript line.
type delivery struct {
	speech  bool
	pcm     []byte
	speaker string
	text    string
}

// deliveries flattens sc in the order the endpoint sent it. Inline data that
// is not valid base64 becomes an empty speech frame so the consumer can
// count and drop it like any other undecodable frame.
func (sc *serverContent) deliveries() []delivery {
	var out []delivery
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				pcm, err := audio.TextToBytes(p.InlineData.Data)
				if err != nil || pcm == nil {
					pcm = []byte{}
				}
				out = append(out, delivery{speech: true, pcm: pcm})
			}
			if p.Text != "" {
				out = append(out, delivery{speaker: speakerModel, text: p.Text})
			}
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		out = append(out, delivery{speaker: speakerUser, text: t.Text})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		out = append(out, delivery{speaker: speakerModel, text: t.Text})
	}
	return out
}
