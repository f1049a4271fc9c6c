package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	speechapi "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/rbright/safeword/internal/audio"
	"github.com/rbright/safeword/internal/logging"
)

// GoogleOptions configures the Cloud Speech streaming recognizer.
type GoogleOptions struct {
	LanguageCode    string
	Model           string
	CredentialsFile string
	AudioInput      string
	AudioFallback   string
	// DumpDir receives a JSONL dump of every response when non-empty.
	DumpDir string
	Logger  *slog.Logger
}

// pcmSource is the microphone side of a session.
type pcmSource interface {
	Chunks() <-chan []byte
	Stop() error
}

// recognizeStream is the subset of the generated bidi client a session uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Google streams microphone audio to Cloud Speech-to-Text and yields one
// utterance per final result.
type Google struct {
	opts   GoogleOptions
	logger *slog.Logger

	openAudio  func(ctx context.Context) (pcmSource, error)
	openStream func(ctx context.Context) (recognizeStream, io.Closer, error)
	now        func() time.Time
}

// NewGoogle builds the streaming recognizer. No connection is made until Start.
func NewGoogle(opts GoogleOptions) *Google {
	if opts.LanguageCode == "" {
		opts.LanguageCode = "en-US"
	}
	g := &Google{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).With("component", "speech", "provider", "google"),
		now:    time.Now,
	}
	g.openAudio = g.microphone
	g.openStream = g.dial
	return g
}

func (g *Google) Name() string { return "google" }

// Start opens the microphone and a StreamingRecognize call.
func (g *Google) Start(parent context.Context) (Session, error) {
	ctx, cancel := context.WithCancel(parent)

	mic, err := g.openAudio(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	rs, conn, err := g.openStream(ctx)
	if err != nil {
		_ = mic.Stop()
		cancel()
		return nil, err
	}
	if err := rs.Send(g.configRequest()); err != nil {
		_ = mic.Stop()
		_ = conn.Close()
		cancel()
		return nil, fmt.Errorf("send streaming config: %w", classifyStatus(err))
	}

	dump := g.openDump()
	s := newStream(cancel)

	var sender sync.WaitGroup
	sender.Add(1)
	go func() {
		defer sender.Done()
		g.pump(mic, rs)
	}()

	go func() {
		err := g.receive(ctx, rs, s, dump)
		cancel()
		_ = mic.Stop()
		sender.Wait()
		_ = conn.Close()
		if dump != nil {
			_ = dump.Close()
		}
		if err != nil {
			g.logger.Warn("recognition stream ended", "error", err.Error())
		}
		s.finish(err)
	}()

	g.logger.Debug("recognition stream started", "language", g.opts.LanguageCode)
	return s, nil
}

func (g *Google) configRequest() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: audio.SampleRate,
					LanguageCode:    g.opts.LanguageCode,
					Model:           g.opts.Model,
				},
				InterimResults: false,
			},
		},
	}
}

func (g *Google) pump(mic pcmSource, rs recognizeStream) {
	for chunk := range mic.Chunks() {
		err := rs.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
		})
		if err != nil {
			// Recv reports the real failure.
			for range mic.Chunks() {
			}
			break
		}
	}
	_ = rs.CloseSend()
}

func (g *Google) receive(ctx context.Context, rs recognizeStream, s *stream, dump *dumpFile) error {
	for {
		resp, err := rs.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return classifyStatus(err)
		}
		dump.write(resp)

		if e := resp.GetError(); e != nil && codes.Code(e.GetCode()) != codes.OK {
			return classifyStatus(status.ErrorProto(e))
		}
		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if !result.GetIsFinal() || len(alts) == 0 {
				continue
			}
			u := NewUtterance(alts[0].GetTranscript(), float64(alts[0].GetConfidence()), g.now())
			if u.Text == "" {
				continue
			}
			if !s.emit(ctx, u) {
				return nil
			}
		}
	}
}

func (g *Google) microphone(ctx context.Context) (pcmSource, error) {
	sel, err := audio.SelectDevice(ctx, g.opts.AudioInput, g.opts.AudioFallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if sel.Warning != "" {
		g.logger.Warn("audio fallback in use", "warning", sel.Warning)
	}
	capture, err := audio.StartCapture(ctx, sel.Device, audio.CaptureOptions{MediaName: "safeword listener"})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return capture, nil
}

func (g *Google) dial(ctx context.Context) (recognizeStream, io.Closer, error) {
	var opts []option.ClientOption
	if g.opts.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(g.opts.CredentialsFile))
	}
	client, err := speechapi.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create speech client: %w", ErrUnavailable, err)
	}
	rs, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("open streaming recognize: %w", classifyStatus(err))
	}
	return rs, client, nil
}

// classifyStatus maps gRPC failures onto the package sentinels. Stream
// duration limits and cancellation are a normal end.
func classifyStatus(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.OK, codes.OutOfRange, codes.DeadlineExceeded, codes.Canceled:
		return nil
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, st.Message())
	}
	return fmt.Errorf("google speech %s: %s", st.Code(), st.Message())
}

// dumpFile appends protojson-encoded responses, one per line. A nil
// *dumpFile discards.
type dumpFile struct {
	f *os.File
}

func (g *Google) openDump() *dumpFile {
	if g.opts.DumpDir == "" {
		return nil
	}
	if err := os.MkdirAll(g.opts.DumpDir, 0o700); err != nil {
		g.logger.Warn("speech dump disabled", "error", err.Error())
		return nil
	}
	name := filepath.Join(g.opts.DumpDir, "speech-"+g.now().UTC().Format("20060102T150405.000")+".jsonl")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		g.logger.Warn("speech dump disabled", "error", err.Error())
		return nil
	}
	return &dumpFile{f: f}
}

func (d *dumpFile) write(msg proto.Message) {
	if d == nil {
		return
	}
	b, err := protojson.Marshal(msg)
	if err != nil {
		return
	}
	_, _ = d.f.Write(append(b, '\n'))
}

func (d *dumpFile) Close() error {
	return d.f.Close()
}
