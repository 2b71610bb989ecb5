// Package audio provides WAV prompt playback and session recording for the
// bridge controller, treating a file as a framed 8-bit unsigned PCM
// source/sink per spec.md §6, adapted from emiago-diago's audio package
// (WavReader/WavWriter over github.com/go-audio/riff).
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/riff"
)

const (
	SampleRate    = 8000
	BitsPerSample = 8
	NumChannels   = 1
)

// ErrUnsupportedFormat means a WAV file's header does not describe mono,
// 8-bit unsigned, 8kHz PCM.
var ErrUnsupportedFormat = errors.New("unsupported WAV format: want mono 8-bit 8kHz PCM")

// Player streams raw PCM frames out of a WAV file, one read at a time, for
// dial/ringback prompt playback.
type Player struct {
	f      *os.File
	reader *riff.Parser
	chunk  *riff.Chunk
	done   bool
}

// OpenPlayer opens a WAV file and validates its header against the format
// every pstnxsip prompt file uses.
func OpenPlayer(path string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prompt %s: %w", path, err)
	}
	p := &Player{f: f, reader: riff.New(f)}
	if err := p.readHeaders(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

func (p *Player) readHeaders() error {
	if err := p.reader.ParseHeaders(); err != nil {
		return fmt.Errorf("parse WAV headers: %w", err)
	}
	for {
		chunk, err := p.reader.NextChunk()
		if err != nil {
			return fmt.Errorf("read fmt chunk: %w", err)
		}
		if chunk.ID != riff.FmtID {
			chunk.Drain()
			continue
		}
		if err := chunk.DecodeWavHeader(p.reader); err != nil {
			return fmt.Errorf("decode fmt chunk: %w", err)
		}
		break
	}
	if p.reader.NumChannels != NumChannels || p.reader.BitsPerSample != BitsPerSample || p.reader.SampleRate != SampleRate {
		return ErrUnsupportedFormat
	}
	return p.seekData()
}

func (p *Player) seekData() error {
	for {
		chunk, err := p.reader.NextChunk()
		if err != nil {
			return fmt.Errorf("find data chunk: %w", err)
		}
		if chunk.ID != riff.DataFormatID {
			chunk.Drain()
			continue
		}
		p.chunk = chunk
		return nil
	}
}

// ReadFrame fills buf with the next chunk of PCM, returning false once the
// file is exhausted. The bridge calls this once per CHUNK_SIZE boundary.
func (p *Player) ReadFrame(buf []byte) (int, bool) {
	if p.done || p.chunk == nil {
		return 0, false
	}
	n, err := p.chunk.Read(buf)
	if err != nil {
		p.done = true
		return n, n > 0
	}
	return n, true
}

// Close releases the underlying file.
func (p *Player) Close() error {
	return p.f.Close()
}

// Recorder writes a WAV file incrementally, finalizing the header on Close,
// adapted from emiago-diago's WavWriter but fixed to pstnxsip's 8-bit
// unsigned mono 8kHz format.
type Recorder struct {
	f        *os.File
	written  bool
	dataSize int64
}

// NewRecorder creates (truncating) a WAV file at path for session recording.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create recording %s: %w", path, err)
	}
	return &Recorder{f: f}, nil
}

// WriteFrame appends one frame of PSTN-domain audio, per spec.md §4.3's
// one-sided (line → WAV) recording design.
func (r *Recorder) WriteFrame(frame []byte) error {
	if !r.written {
		if _, err := r.writeHeader(); err != nil {
			return fmt.Errorf("write WAV header: %w", err)
		}
		r.written = true
	}
	n, err := r.f.Write(frame)
	r.dataSize += int64(n)
	if err != nil {
		return fmt.Errorf("write recording frame: %w", err)
	}
	return nil
}

func (r *Recorder) writeHeader() (int, error) {
	const headerSize = 44
	header := make([]byte, headerSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(r.dataSize+headerSize-8))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], NumChannels)
	binary.LittleEndian.PutUint32(header[24:28], SampleRate)
	binary.LittleEndian.PutUint32(header[28:32], SampleRate*BitsPerSample*NumChannels/8)
	binary.LittleEndian.PutUint16(header[32:34], BitsPerSample*NumChannels/8)
	binary.LittleEndian.PutUint16(header[34:36], BitsPerSample)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(r.dataSize))
	return r.f.Write(header)
}

// Close finalizes the WAV header (now that dataSize is known) and closes the
// file.
func (r *Recorder) Close() error {
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := r.writeHeader(); err != nil {
		return err
	}
	return r.f.Close()
}
