package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/troikatech/carecall/pkg/twilio"
)

// μ-law silence, 20ms at 8kHz.
var silenceFrame = bytes.Repeat([]byte{0xFF}, 160)

// stream-trial plays the telephony side of a media stream against a running
// bridge: it sends start, a few seconds of silence and stop, and reports
// what the agent sent back.
func main() {
	wsURL := flag.String("url", "ws://localhost:8000/media-stream", "media stream endpoint")
	callerID := flag.String("caller", "", "caller_id custom parameter")
	duration := flag.Duration("duration", 5*time.Second, "how long to stream silence")
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("Media Stream Probe")
	fmt.Println("========================================")
	fmt.Printf("URL: %s\n\n", *wsURL)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(*wsURL, nil)
	if err != nil {
		if resp != nil {
			fmt.Printf("Status: %s\n", resp.Status)
		}
		log.Fatalf("❌ WebSocket connection failed: %v", err)
	}
	defer conn.Close()
	fmt.Println("✅ WebSocket connection established")

	streamSid := "MZ" + uuid.NewString()
	callSid := "CA" + uuid.NewString()

	done := make(chan struct{})
	go report(conn, done)

	send := func(msg twilio.StreamMessage) {
		if err := conn.WriteJSON(msg); err != nil {
			log.Fatalf("❌ Failed to send %s: %v", msg.Event, err)
		}
	}

	send(twilio.StreamMessage{Event: twilio.EventConnected})
	send(twilio.StreamMessage{
		Event:     twilio.EventStart,
		StreamSid: streamSid,
		Start: &twilio.Start{
			CallSid:          callSid,
			StreamSid:        streamSid,
			Tracks:           []string{"inbound"},
			CustomParameters: map[string]string{twilio.CallerIDParameter: *callerID},
			MediaFormat:      &twilio.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	})
	fmt.Println("✅ Start sent, streaming silence...")

	ticker := time.NewTicker(20 * time.Millisecond)
	deadline := time.After(*duration)
stream:
	for {
		select {
		case <-ticker.C:
			send(twilio.MediaMessage(streamSid, silenceFrame))
		case <-deadline:
			break stream
		case <-done:
			fmt.Println("⚠️  Bridge closed the stream early")
			return
		}
	}
	ticker.Stop()

	send(twilio.StreamMessage{Event: twilio.EventStop, StreamSid: streamSid, Stop: &twilio.Stop{CallSid: callSid}})
	fmt.Println("✅ Stop sent")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		fmt.Println("⚠️  Bridge did not close the stream after stop")
	}
}

func report(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	var mediaFrames, audioBytes int
	defer func() {
		fmt.Printf("\nAgent audio: %d frames, %d bytes\n", mediaFrames, audioBytes)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Println("✅ Stream closed normally")
			} else {
				fmt.Printf("⚠️  Stream ended: %v\n", err)
			}
			return
		}

		msg, err := twilio.ParseStreamMessage(data)
		if err != nil {
			fmt.Printf("⚠️  Unreadable frame: %v\n", err)
			continue
		}
		switch msg.Event {
		case twilio.EventMedia:
			audio, err := msg.Audio()
			if err == nil {
				mediaFrames++
				audioBytes += len(audio)
			}
		default:
			fmt.Printf("← %s\n", msg.Event)
		}
	}
}
