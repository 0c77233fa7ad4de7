package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kindlyrobotics/iplchat/internal/clientcore"
	"github.com/kindlyrobotics/iplchat/internal/crypto"
	"github.com/kindlyrobotics/iplchat/internal/logging"
	"github.com/kindlyrobotics/iplchat/internal/models"
)

// This is a minimal console front-end over internal/clientcore. It exists
// to exercise the client core end to end, not as a deliverable UI.

var log = logging.New("Client")

func main() {
	var addr, identityPath, keychainDir string

	root := &cobra.Command{
		Use:   "iplchat-client",
		Short: "console front-end for connecting to an iplchat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, identityPath, keychainDir)
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:4589", "server address")
	root.Flags().StringVar(&identityPath, "identity", "./client-identity", "path to persist this client's identity key pair")
	root.Flags().StringVar(&keychainDir, "keychain-dir", "./keychains", "directory for per-user peer keychains")

	if err := root.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(addr, identityPath, keychainDir string) error {
	identity, err := loadOrCreateIdentity(identityPath)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	client := clientcore.New(identity, keychainDir)
	client.OnConnectionState(func(s clientcore.ConnState) { log.Infof("connection state: %s", s) })
	client.OnPeerJoined(func(peerUUID string) { fmt.Printf("[peer joined] %s\n", peerUUID) })
	client.OnMessage(func(e clientcore.Envelope) {
		fmt.Printf("[%s] %s\n", e.ChannelUUID, string(e.Plaintext))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Connect(ctx, addr); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	if err := authenticate(client); err != nil {
		return err
	}

	if err := client.StartNotificationListener("0.0.0.0:0"); err != nil {
		return fmt.Errorf("notification listener: %w", err)
	}

	fmt.Println("connected as", client.Username())
	fmt.Println("commands: channels | search <query> | join <uuid> | exchange <uuid> | send <uuid> <text> | quit")
	repl(client)
	return nil
}

func authenticate(client *clientcore.Client) error {
	stdin := bufio.NewReader(os.Stdin)
	fmt.Print("username: ")
	username, _ := stdin.ReadString('\n')
	username = strings.TrimSpace(username)

	fmt.Print("password: ")
	password, _ := stdin.ReadString('\n')
	password = strings.TrimSpace(password)

	fmt.Print("register instead of login? [y/N]: ")
	answer, _ := stdin.ReadString('\n')
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
		return client.Register(username, password)
	}
	return client.Login(username, password)
}

func repl(client *clientcore.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return
		case "channels":
			channels, err := client.FetchChannels()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, ch := range channels {
				fmt.Printf("%s  %s\n", ch.UUID, ch.Name)
			}
		case "search":
			if len(fields) != 2 {
				fmt.Println("usage: search <query>")
				continue
			}
			refs, err := client.SearchUsers(fields[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, r := range refs {
				fmt.Printf("%s  %s\n", r.UUID, r.Name)
			}
		case "join":
			if len(fields) != 2 {
				fmt.Println("usage: join <uuid>")
				continue
			}
			if err := client.JoinChannel(fields[1]); err != nil {
				fmt.Println("error:", err)
			}
		case "exchange":
			if len(fields) != 2 {
				fmt.Println("usage: exchange <uuid>")
				continue
			}
			if err := client.BeginPeerExchange(fields[1]); err != nil {
				fmt.Println("error:", err)
			}
		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <uuid> <text>")
				continue
			}
			text := strings.Join(fields[2:], " ")
			if err := client.SendMessage(fields[1], []byte(text), models.KindText); err != nil {
				fmt.Println("error:", err)
			}
		default:
			fmt.Println("unknown command")
		}
	}
}

// loadOrCreateIdentity persists a client's Kyber+Dilithium identity
// between runs; a fresh server login doesn't require the identity to
// match what was used at registration (the broker trusts whatever
// identity the current connection's handshake presents), but keeping it
// stable lets peers recognize a returning client.
func loadOrCreateIdentity(path string) (*crypto.KeyPair, error) {
	if data, err := os.ReadFile(path); err == nil {
		return decodeIdentity(data)
	}

	identity, err := crypto.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, encodeIdentity(identity), 0o600); err != nil {
		return nil, fmt.Errorf("write identity file: %w", err)
	}
	return identity, nil
}

func encodeIdentity(kp *crypto.KeyPair) []byte {
	out := make([]byte, 0, len(kp.KyberPublic)+len(kp.KyberPrivate)+len(kp.DilithiumPublic)+len(kp.DilithiumPrivate))
	out = append(out, kp.KyberPublic...)
	out = append(out, kp.KyberPrivate...)
	out = append(out, kp.DilithiumPublic...)
	out = append(out, kp.DilithiumPrivate...)
	return out
}

func decodeIdentity(data []byte) (*crypto.KeyPair, error) {
	wantLen := crypto.Kyber1024PublicKeySize + crypto.Kyber1024PrivateKeySize +
		crypto.Dilithium3PublicKeySize + crypto.Dilithium3PrivateKeySize
	if len(data) != wantLen {
		return nil, fmt.Errorf("identity file: expected %d bytes, got %d", wantLen, len(data))
	}
	off := 0
	next := func(n int) []byte {
		b := data[off : off+n]
		off += n
		return b
	}
	return &crypto.KeyPair{
		KyberPublic:      append([]byte(nil), next(crypto.Kyber1024PublicKeySize)...),
		KyberPrivate:     append([]byte(nil), next(crypto.Kyber1024PrivateKeySize)...),
		DilithiumPublic:  append([]byte(nil), next(crypto.Dilithium3PublicKeySize)...),
		DilithiumPrivate: append([]byte(nil), next(crypto.Dilithium3PrivateKeySize)...),
	}, nil
}
