package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	gowav "github.com/go-audio/wav"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/wavdispatch/pkg/wav"
)

func main() {
	url := flag.String("url", "ws://localhost:8765/", "ingest websocket url")
	file := flag.String("file", "", "raw PCM or WAV file to stream")
	frameSize := flag.Int("frame", 3200, "bytes per websocket frame")
	realtime := flag.Bool("realtime", true, "pace frames at the audio byte rate")
	flag.Parse()
	if *file == "" {
		fmt.Println("usage: stream_audio -file=audio.wav [-url=ws://host:port/] [-frame=3200]")
		os.Exit(1)
	}
	if *frameSize <= 0 {
		fmt.Println("frame must be positive")
		os.Exit(1)
	}

	pcm, err := loadPCM(*file)
	if err != nil {
		fmt.Println("read error:", err)
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()

	pace := time.Duration(float64(*frameSize) / float64(wav.ByteRate) * float64(time.Second))
	frames := 0
	for off := 0; off < len(pcm); off += *frameSize {
		end := off + *frameSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			fmt.Println("write error:", err)
			os.Exit(1)
		}
		frames++
		if *realtime {
			time.Sleep(pace)
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	fmt.Printf("sent %d frames, %d bytes (%.2fs of audio)\n", frames, len(pcm), wav.Duration(len(pcm)))
}

// loadPCM returns the sample data of a WAV file, or the file as-is otherwise.
func loadPCM(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return raw, nil
	}
	d := gowav.NewDecoder(bytes.NewReader(raw))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	if int(d.SampleRate) != wav.SampleRate || int(d.NumChans) != wav.Channels || int(d.BitDepth) != wav.BitsPerSample {
		fmt.Printf("warning: %s is %dHz/%dch/%dbit, ingest assumes %dHz/%dch/%dbit\n",
			path, d.SampleRate, d.NumChans, d.BitDepth, wav.SampleRate, wav.Channels, wav.BitsPerSample)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(d.PCMChunk.R, int64(d.PCMChunk.Size)))
}
