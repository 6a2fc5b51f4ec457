package buffer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// DefaultDecoders returns the standard extension-to-decoder table: WAV via
// github.com/go-audio/wav and MP3 via github.com/hajimehoshi/go-mp3. Both
// decoders run entirely on the calling (control) goroutine.
func DefaultDecoders() map[string]decodeFunc {
	return map[string]decodeFunc{
		".wav": decodeWAV,
		".mp3": decodeMP3,
	}
}

func decodeWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid WAV file")
	}
	sampleRate := int(dec.SampleRate)
	channels := int(dec.NumChans)
	if channels == 0 {
		return nil, 0, fmt.Errorf("WAV file reports zero channels")
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   make([]int, 4096),
	}

	var stereo []float32
	maxVal := float32(int(1) << (uint(dec.BitDepth) - 1))
	if dec.BitDepth == 0 {
		maxVal = float32(1 << 15)
	}

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && err != io.EOF {
			return nil, 0, err
		}
		if n == 0 {
			break
		}
		frames := n / channels
		for i := 0; i < frames; i++ {
			l := float32(buf.Data[i*channels]) / maxVal
			var r float32
			if channels >= 2 {
				r = float32(buf.Data[i*channels+1]) / maxVal
			} else {
				r = l // mono upmixed to stereo by duplication
			}
			stereo = append(stereo, l, r)
		}
		if err == io.EOF {
			break
		}
	}
	return stereo, sampleRate, nil
}

func decodeMP3(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, err
	}
	sampleRate := dec.SampleRate()

	// go-mp3 always decodes to interleaved 16-bit stereo PCM.
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, err
	}
	if len(raw)%4 != 0 {
		raw = raw[:len(raw)-len(raw)%4]
	}
	samples := make([]float32, len(raw)/2)
	const scale = 1.0 / 32768.0
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		samples[i] = float32(v) * scale
	}
	return samples, sampleRate, nil
}
