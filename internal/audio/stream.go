package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/audioloop/livescribe/pkg/logger"
)

const (
	streamMaxRetries   = 3
	streamReadBufBytes = 64 * 1024
)

// StreamSource is a Source that pulls raw PCM16 little-endian audio
// from an HTTP endpoint, such as a network capture relay. The
// connection is established lazily on the first ReadChunk and retried
// with backoff.
type StreamSource struct {
	url        string
	sampleRate int
	chunkBytes int
	httpClient *http.Client
	logger     *logger.Logger

	mu   sync.Mutex
	body io.ReadCloser
	rd   *bufio.Reader
}

// NewStreamSource creates a source reading PCM16LE audio from url.
// chunkMs controls how much audio each ReadChunk returns.
func NewStreamSource(url string, sampleRate, chunkMs int, timeout time.Duration, log *logger.Logger) *StreamSource {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // compression would buffer the live stream
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &StreamSource{
		url:        url,
		sampleRate: sampleRate,
		chunkBytes: sampleRate * chunkMs / 1000 * 2, // 2 bytes per sample
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
		logger:     log.Named("stream-source"),
	}
}

// ReadChunk returns the next chunk of samples from the stream
func (s *StreamSource) ReadChunk(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rd == nil {
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, s.chunkBytes)
	n, err := io.ReadFull(s.rd, buf)
	if err != nil {
		if err == io.ErrUnexpectedEOF && n > 0 {
			return DecodePCM16(buf[:n]), nil
		}
		s.closeLocked()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("stream read failed: %w", err)
	}

	return DecodePCM16(buf), nil
}

// Close terminates the stream connection
func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

// connect opens the stream with retries and exponential backoff
func (s *StreamSource) connect(ctx context.Context) error {
	url := s.cacheBreakerURL()
	retryDelay := time.Second

	for attempt := 0; attempt < streamMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create stream request: %w", err)
		}
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Connection", "keep-alive")
		req.Header.Set("User-Agent", "livescribe/1.0")

		resp, err := s.httpClient.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			s.logger.Debug("Connected to audio stream",
				logger.String("url", s.url),
				logger.String("content_type", resp.Header.Get("Content-Type")))
			s.body = resp.Body
			s.rd = bufio.NewReaderSize(resp.Body, streamReadBufBytes)
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}

		if attempt == streamMaxRetries-1 {
			if err != nil {
				return fmt.Errorf("failed to connect to stream after %d attempts: %w", streamMaxRetries, err)
			}
			return fmt.Errorf("unexpected stream status after %d attempts: %d", streamMaxRetries, resp.StatusCode)
		}

		s.logger.Warn("Retrying audio stream connection",
			logger.String("url", s.url),
			logger.Int("attempt", attempt+1),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
			retryDelay *= 2
		}
	}
	return nil
}

// cacheBreakerURL defeats caching proxies between us and the relay
func (s *StreamSource) cacheBreakerURL() string {
	separator := "?"
	if strings.Contains(s.url, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%snocache=%d", s.url, separator, time.Now().UnixNano())
}

func (s *StreamSource) closeLocked() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
		s.rd = nil
	}
}
