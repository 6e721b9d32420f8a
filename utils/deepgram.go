package utils

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

// END_OF_SPEECH is pushed on the transcription channel when the speaker pauses.
const END_OF_SPEECH = "<END_OF_SPEECH>"

type DeepgramOptions struct {
	APIKey              string
	Language            string
	Encoding            string
	SampleRate          int
	ConfidenceThreshold float64
}

type DeepgramCallback struct {
	TranscriptionChannel chan string
	confidenceThreshold  float64
	logger               *zap.Logger

	totalAudioBytesSent int64
}

type DeepgramClient struct {
	dgClient *listen.WSCallback
	callback *DeepgramCallback
}

// InitDeepgramClient opens a live transcription client. Final transcripts and
// END_OF_SPEECH markers are delivered on transcriptionCh.
func InitDeepgramClient(opts DeepgramOptions, transcriptionCh chan string, logger *zap.Logger) (*DeepgramClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("deepgram API key not set")
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Encoding == "" {
		opts.Encoding = "linear16"
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}

	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Language:       opts.Language,
		Encoding:       opts.Encoding,
		SampleRate:     opts.SampleRate,
		Channels:       1,
		Endpointing:    "300",
		InterimResults: true,
		Model:          "nova-3",
	}
	if opts.Language != "en" {
		transcriptOptions.Language = "multi"
	}

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	callback := &DeepgramCallback{
		TranscriptionChannel: transcriptionCh,
		confidenceThreshold:  opts.ConfidenceThreshold,
		logger:               logger.Named("deepgram"),
	}

	dgClient, err := listen.NewWebSocketUsingCallback(context.Background(), opts.APIKey, clientOptions, transcriptOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to create live transcription client: %w", err)
	}

	return &DeepgramClient{
		dgClient: dgClient,
		callback: callback,
	}, nil
}

func (d *DeepgramClient) Connect() error {
	if !d.dgClient.Connect() {
		return fmt.Errorf("failed to connect to Deepgram websocket")
	}
	return nil
}

func (d *DeepgramClient) Send(data []byte) error {
	reader := bufio.NewReader(bytes.NewReader(data))
	err := d.dgClient.Stream(reader)
	if err != nil && err != io.EOF {
		return fmt.Errorf("error streaming to Deepgram: %w", err)
	}
	d.callback.totalAudioBytesSent += int64(len(data))
	return nil
}

func (d *DeepgramClient) Close() {
	d.dgClient.Stop()
}

func (c *DeepgramCallback) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Info("Deepgram socket connection opened")
	return nil
}

func (c *DeepgramCallback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	alternative := mr.Channel.Alternatives[0]
	transcript := strings.TrimSpace(alternative.Transcript)
	if transcript == "" {
		return nil
	}

	if alternative.Confidence < c.confidenceThreshold {
		c.logger.Debug("Discarding low confidence transcript", zap.String("transcript", transcript))
		return nil
	}

	if mr.IsFinal {
		c.TranscriptionChannel <- transcript
	}
	if mr.SpeechFinal {
		c.TranscriptionChannel <- END_OF_SPEECH
	}
	return nil
}

func (c *DeepgramCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	return nil
}

func (c *DeepgramCallback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *DeepgramCallback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.TranscriptionChannel <- END_OF_SPEECH
	return nil
}

func (c *DeepgramCallback) Close(cr *msginterfaces.CloseResponse) error {
	c.logger.Info("Deepgram socket connection closed")
	return nil
}

func (c *DeepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("Deepgram socket error", zap.Any("error", er))
	return nil
}

func (c *DeepgramCallback) UnhandledEvent(byData []byte) error {
	c.logger.Warn("Unhandled Deepgram event", zap.ByteString("event", byData))
	return nil
}
