package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/models"
	"github.com/Perceptus-Labs/perceptus-agent/utils"
)

// VoiceStream is a live speech-to-text connection.
type VoiceStream interface {
	Send(audio []byte) error
	Close()
}

// VoiceFactory opens a stream that delivers transcripts and
// utils.END_OF_SPEECH markers on transcripts.
type VoiceFactory func(transcripts chan string) (VoiceStream, error)

// DeepgramVoice opens Deepgram live transcription streams.
func DeepgramVoice(opts utils.DeepgramOptions, logger *zap.Logger) VoiceFactory {
	return func(transcripts chan string) (VoiceStream, error) {
		client, err := utils.InitDeepgramClient(opts, transcripts, logger)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// VoiceHandler turns spoken requests into chat turns: transcripts are
// accumulated until the speaker pauses, then sent to the agent.
type VoiceHandler struct {
	session     *ClientSession
	stream      VoiceStream
	transcripts chan string
	current     strings.Builder
}

func InitVoiceHandler(session *ClientSession, open VoiceFactory) (*VoiceHandler, error) {
	session.Logger.Info("Initializing Voice Handler...")

	transcripts := make(chan string, 100)
	stream, err := open(transcripts)
	if err != nil {
		return nil, fmt.Errorf("failed to open voice stream: %w", err)
	}

	session.Logger.Info("Voice Handler initialized")
	return &VoiceHandler{
		session:     session,
		stream:      stream,
		transcripts: transcripts,
	}, nil
}

func (h *VoiceHandler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case transcript := <-h.transcripts:
			if transcript == models.SESSION_END {
				return
			}
			h.handleTranscript(ctx, transcript)
		}
	}
}

func (h *VoiceHandler) handleTranscript(ctx context.Context, transcript string) {
	if transcript != utils.END_OF_SPEECH {
		if strings.TrimSpace(transcript) == "" {
			return
		}
		h.current.WriteString(transcript)
		h.current.WriteByte(' ')
		h.session.sendMessage("transcript_interim", "", map[string]string{
			"transcript": strings.TrimSpace(h.current.String()),
		})
		return
	}

	final := strings.TrimSpace(h.current.String())
	h.current.Reset()
	if final == "" {
		return
	}

	h.session.Logger.Info("End of speech detected, sending transcript to agent", zap.String("transcript", final))
	h.session.sendMessage("transcript_final", "", map[string]string{"transcript": final})

	reply := h.session.agent.ChatWithAgent(ctx, final, h.session.ID)
	h.session.sendMessage("chat_result", "", reply)
}

// ProcessAudioData forwards base64 encoded audio to the stream.
func (h *VoiceHandler) ProcessAudioData(payload string) error {
	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("invalid audio payload: %w", err)
	}
	if err := h.stream.Send(audio); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (h *VoiceHandler) Close() {
	h.session.Logger.Info("Closing Voice Handler")
	h.stream.Close()
}
