// docent-client: command line simulator for the visitor guide protocol.
// It registers, sends either a WAV utterance in chunks or a direct text
// query, then plays back the server's phrase streams as byte counts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parkwalk/go-docent/pkg/backoff"
	"github.com/parkwalk/go-docent/pkg/protocol"
)

var (
	serverURL = flag.String("server", "ws://localhost:8080/ws/guide", "guide websocket URL")
	clientID  = flag.String("id", "sim-visitor", "client identifier")
	wavPath   = flag.String("wav", "", "WAV file to send as the utterance")
	text      = flag.String("text", "", "send a text query instead of audio")
	chunkSize = flag.Int("chunk", 32*1024, "audio upload chunk size in bytes")
	retries   = flag.Int("retries", 5, "max connection attempts")
)

func main() {
	flag.Parse()

	if *wavPath == "" && *text == "" {
		log.Fatal("provide -wav or -text")
	}

	policy := backoff.New()
	var lastErr error
	for attempt := 0; attempt < *retries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			log.Printf("reconnecting in %v (attempt %d/%d)", delay.Round(time.Millisecond), attempt+1, *retries)
			time.Sleep(delay)
		}
		if lastErr = runOnce(); lastErr == nil {
			return
		}
		log.Printf("session failed: %v", lastErr)
	}
	log.Fatalf("giving up after %d attempts: %v", *retries, lastErr)
}

func runOnce() error {
	url := fmt.Sprintf("%s/%s", *serverURL, *clientID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.NewRegister(protocol.DefaultAudioSettings())); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	if *text != "" {
		if err := conn.WriteJSON(protocol.NewTextQuery(*text)); err != nil {
			return fmt.Errorf("text query: %w", err)
		}
	} else if err := sendWAV(conn); err != nil {
		return err
	}

	return receive(conn)
}

// sendWAV uploads the file as numbered base64 chunks followed by the
// completion marker, mirroring how the handheld units stream captures.
func sendWAV(conn *websocket.Conn) error {
	data, err := os.ReadFile(*wavPath)
	if err != nil {
		return fmt.Errorf("read wav: %w", err)
	}

	chunks := 0
	for off := 0; off < len(data); off += *chunkSize {
		end := off + *chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := conn.WriteJSON(protocol.NewAudioChunk(data[off:end], chunks)); err != nil {
			return fmt.Errorf("chunk %d: %w", chunks, err)
		}
		chunks++
	}
	log.Printf("sent %d bytes in %d chunks", len(data), chunks)

	return conn.WriteJSON(protocol.NewAudioComplete(chunks))
}

// turnProgress tracks phrase streams for one turn. The server may skip a
// failed phrase entirely, so completion is keyed on the last sequence
// number rather than on counting every phrase.
type turnProgress struct {
	totalPhrases int
	phrasesDone  int
}

func (p *turnProgress) start(msg protocol.AudioStart) {
	p.totalPhrases = msg.TotalPhrases
}

// complete records one finished phrase stream and reports whether the
// turn is over.
func (p *turnProgress) complete(msg protocol.AudioDone) bool {
	p.phrasesDone++
	if p.totalPhrases <= 0 {
		return false
	}
	return msg.Phrase >= p.totalPhrases || p.phrasesDone >= p.totalPhrases
}

// receive prints server messages until the final phrase's audio stream
// completes or the turn ends without audio.
func receive(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(2 * time.Minute))

	var (
		progress   turnProgress
		audioBytes int
	)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if mt == websocket.BinaryMessage {
			audioBytes += len(data)
			continue
		}

		var envelope struct {
			Type protocol.MessageType `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			log.Printf("unparseable server message: %v", err)
			continue
		}

		switch envelope.Type {
		case protocol.TypeRegisterAck:
			log.Printf("registered as %s", *clientID)

		case protocol.TypeAudioReceiving, protocol.TypeSTTProcessing, protocol.TypeOpenAIProcessing:
			log.Printf("server: %s", envelope.Type)

		case protocol.TypeSTTResult:
			var res protocol.STTResult
			json.Unmarshal(data, &res)
			if res.Error != "" {
				log.Printf("no transcription: %s", res.Error)
				return nil
			}
			log.Printf("heard: %q", res.Text)

		case protocol.TypeAudioStart:
			var start protocol.AudioStart
			json.Unmarshal(data, &start)
			progress.start(start)
			log.Printf("phrase %d/%d: %d bytes @ %d Hz",
				start.Phrase, start.TotalPhrases, start.TotalBytes, start.SampleRate)

		case protocol.TypeAudioComplete:
			var done protocol.AudioDone
			json.Unmarshal(data, &done)
			if progress.complete(done) {
				log.Printf("turn complete: %d phrases, %d audio bytes", progress.phrasesDone, audioBytes)
				return nil
			}

		case protocol.TypeError:
			var msg protocol.ErrorMessage
			json.Unmarshal(data, &msg)
			return fmt.Errorf("server error: %s", msg.Message)
		}
	}
}
