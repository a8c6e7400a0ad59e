package transcribe

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// audioExtensions are containers Deepgram accepts directly; anything
// else goes through ffmpeg extraction first.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".flac": true,
	".m4a":  true,
	".opus": true,
	".wma":  true,
}

// IsAudioFile reports whether the path looks like a plain audio file.
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// HasFFmpeg reports whether ffmpeg is available on PATH.
func HasFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// ExtractAudio writes a mono 16 kHz PCM wav, the cheapest upload
// format the provider handles well.
func ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %v: %s", err, tail(string(output), 300))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
