package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/brainlive/internal/pcm"
)

// dumpAudio writes the run's captured microphone audio as a mono WAV file.
func (s *Session) dumpAudio(r *run) {
	if s.cfg.AudioDumpDir == "" {
		return
	}
	raw := r.stream.RawPCM()
	if len(raw) == 0 {
		return
	}

	path := filepath.Join(s.cfg.AudioDumpDir, fmt.Sprintf("capture-%d.wav", time.Now().UnixMilli()))
	if err := writeWAVFile(path, raw, r.stream.SampleRate()); err != nil {
		s.logger.Warn("audio dump failed", "path", path, "error", err.Error())
		return
	}
	s.logger.Info("audio dump written", "path", path, "bytes", len(raw))
}

func writeWAVFile(path string, raw []byte, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := pcm.WriteWAV(f, raw, sampleRate, 1); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
