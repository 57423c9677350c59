package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/parlachat/parla/appstate"
	"github.com/parlachat/parla/chatapi"
	"github.com/parlachat/parla/chatcache"
	"github.com/parlachat/parla/config"
	"github.com/parlachat/parla/devserver"
	"github.com/parlachat/parla/dispatch"
	"github.com/parlachat/parla/playback"
	"github.com/parlachat/parla/recorder"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional, env vars otherwise)")
	listDevices := flag.Bool("list-devices", false, "List available audio input devices")
	playFile := flag.String("play", "", "Play audio file")
	serve := flag.Bool("serve", false, "Run the local dev chat server")
	record := flag.Bool("record", false, "Record one voice message and send it")
	conversationID := flag.String("conversation", "", "Conversation ID to send into")
	newChat := flag.String("new-chat", "", "Create a conversation with this title and send into it")
	language := flag.String("language", "", "Language code (defaults to the stored preference)")
	deviceID := flag.Int("device", 0, "Audio input device ID to use")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()}))
	slog.SetDefault(logger)

	if *playFile != "" {
		if err := playback.New().Play(context.Background(), *playFile); err != nil {
			slog.Error("Failed to play audio file", "error", err)
			os.Exit(1)
		}
		return
	}

	if *listDevices {
		devices, err := recorder.ListDevices()
		if err != nil {
			slog.Error("Failed to list audio devices", "error", err)
			os.Exit(1)
		}

		fmt.Println("Available audio input devices:")
		for i, device := range devices {
			fmt.Printf("[%d] %s\n", i, device.Name)
			fmt.Printf("    Max Input Channels: %d\n", device.MaxInputChannels)
			fmt.Printf("    Default Sample Rate: %f\n", device.DefaultSampleRate)
			fmt.Println()
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Debug("Received shutdown signal")
		cancel()
	}()

	if *serve {
		server := devserver.New(devserver.Config{Addr: cfg.DevServer.Addr, Seed: true})
		if err := server.Start(ctx); err != nil {
			slog.Error("Dev server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if *record {
		if err := runRecord(ctx, cfg, *conversationID, *newChat, *language, *deviceID); err != nil {
			slog.Error("Record-and-send failed", "error", err)
			os.Exit(1)
		}
		return
	}

	flag.Usage()
}

// runRecord wires the whole pipeline for a single message: capture from the
// microphone, dispatch to the chat service, then show the refreshed
// conversation.
func runRecord(ctx context.Context, cfg *config.Config, conversationID, newChat, language string, deviceID int) error {
	store, err := appstate.Load(cfg.State.Path)
	if err != nil {
		return err
	}

	client, err := chatapi.New(chatapi.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.GetTimeoutDuration(),
		Token:          store.Token,
		OnUnauthorized: store.HandleUnauthorized,
	})
	if err != nil {
		return err
	}

	view := chatcache.New(chatcache.ClientAPI{Client: client})
	dispatcher := dispatch.New(client, view, dispatch.Config{})

	if language == "" {
		language = store.Preferences().DefaultLanguage
	}

	if newChat != "" {
		created, err := dispatcher.CreateConversation(ctx, newChat, language)
		if err != nil {
			return err
		}
		conversationID = created.ConversationID
	}
	if conversationID == "" {
		conversationID = store.CurrentConversation()
	}
	if conversationID == "" {
		return fmt.Errorf("no conversation selected; pass -conversation or -new-chat")
	}
	store.SetCurrentConversation(conversationID)

	if deviceID == 0 {
		deviceID = cfg.Recorder.DeviceID
	}

	sweeper, err := recorder.NewSweeper(cfg.Recorder.Dir, cfg.Recorder.GetSweepGraceDuration())
	if err != nil {
		return err
	}
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			slog.Error("Recordings sweeper failed", "error", err)
		}
	}()

	rec, err := recorder.New(recorder.NewPortAudioDevice(deviceID), recorder.Config{
		Dir:  cfg.Recorder.Dir,
		Tick: cfg.Recorder.GetTickDuration(),
		OnTick: func(seconds int) {
			fmt.Printf("\rRecording... %ds", seconds)
		},
	})
	if err != nil {
		return err
	}
	defer rec.Close()

	if err := rec.Start(ctx); err != nil {
		return err
	}

	fmt.Println("Recording. Press Enter to send...")
	fmt.Scanln()

	handle, err := rec.Stop(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nCaptured %.1fs of audio\n", handle.Duration.Seconds())

	msg, err := dispatcher.Dispatch(ctx, handle, conversationID, language)
	if err != nil {
		slog.Error("Dispatch failed; message kept locally with error status",
			"error", err,
			"messageID", msg.ID)
		return err
	}
	sweeper.Release(handle)

	fmt.Printf("Sent: %s\n", msg.Text)

	messages, err := view.Messages(ctx, conversationID)
	if err != nil {
		return err
	}
	dispatcher.PruneSettled(conversationID)
	for _, m := range messages {
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Sender, m.Text)
	}
	return nil
}
