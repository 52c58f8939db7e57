// walletbridge-demo exercises the full bridge protocol against an
// in-process wallet stub: handshake, an encrypted RPC call through the
// persistent signer, and a single-use ephemeral flow.
//
// Usage:
//
//	walletbridge-demo [options]
//
// Options:
//
//	-config   Path to a YAML configuration file (optional)
//	-storage  Path for persistent key/session storage (default: in-memory)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crosswin/walletbridge/pkg/config"
	"github.com/crosswin/walletbridge/pkg/frame"
	"github.com/crosswin/walletbridge/pkg/keys"
	"github.com/crosswin/walletbridge/pkg/signer"
	"github.com/crosswin/walletbridge/pkg/store"
	"github.com/crosswin/walletbridge/pkg/telemetry"
	"github.com/crosswin/walletbridge/pkg/transport"
	"github.com/crosswin/walletbridge/pkg/walletstub"
)

const walletOrigin = "https://wallet.example.com"

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	storagePath := flag.String("storage", "", "path for persistent storage (default: in-memory)")
	flag.Parse()

	loggerFactory := logging.NewDefaultLoggerFactory()

	// Transport configuration: from file, or demo defaults.
	tc := transport.Config{WalletURL: walletOrigin}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		tc = cfg.Transport()
	}

	// Backing store: durable when a path is given.
	var backing store.Store = store.NewMemStore()
	if *storagePath != "" {
		ls, err := store.OpenLevelStore(*storagePath)
		if err != nil {
			log.Fatalf("Failed to open storage: %v", err)
		}
		defer ls.Close()
		backing = ls
	}

	// The wallet side: an in-process stub over a pipe pair.
	pair := transport.NewPipePair(walletOrigin)
	defer pair.Close()

	_, err := walletstub.New(walletstub.Config{
		Pair: pair,
		Bootstrap: &frame.ChainData{
			Chains: map[string]string{"1": "https://rpc.example.com"},
			NativeCurrencies: map[string]frame.Currency{
				"1": {Name: "Ether", Symbol: "ETH", Decimals: 18},
			},
		},
		Handler: func(method string, params json.RawMessage) (any, error) {
			log.Printf("wallet received call: %s", method)
			switch method {
			case "eth_accounts":
				return []string{"0x0000000000000000000000000000000000000001"}, nil
			case "wallet_sign":
				return "0xsigned", nil
			default:
				return "ok", nil
			}
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("Failed to create wallet stub: %v", err)
	}

	// The app side.
	reporter, err := telemetry.NewPromReporter(prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("Failed to create telemetry reporter: %v", err)
	}
	correlations := telemetry.NewRegistry()

	tc.Opener = pair.Opener()
	tc.Telemetry = reporter
	tc.LoggerFactory = loggerFactory
	comm, err := transport.NewCommunicator(tc)
	if err != nil {
		log.Fatalf("Failed to create communicator: %v", err)
	}
	defer comm.Close()

	km, err := keys.NewManager(keys.Config{
		Store:         backing,
		Namespace:     "default",
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("Failed to create key manager: %v", err)
	}

	sig, err := signer.NewSigner(signer.Config{
		KeyManager:    km,
		Communicator:  comm,
		State:         signer.NewSessionState(backing, "default"),
		Telemetry:     reporter,
		Correlations:  correlations,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("Failed to create signer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Persistent flow: handshake, then an encrypted call.
	if _, err := sig.Handshake(ctx, signer.HandshakeArgs{}); err != nil {
		log.Fatalf("Handshake failed: %v", err)
	}
	log.Println("handshake complete")

	accounts, err := sig.Request(ctx, signer.RequestArgs{Method: "eth_accounts"})
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	log.Printf("eth_accounts: %s", string(accounts))

	// Ephemeral flow: fresh keys, one whitelisted call, teardown.
	eph, err := signer.NewEphemeralSigner(signer.EphemeralConfig{
		Communicator:  comm,
		ChainID:       1,
		Telemetry:     reporter,
		Correlations:  correlations,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("Failed to create ephemeral signer: %v", err)
	}

	signature, err := eph.Execute(ctx, signer.RequestArgs{
		Method: "wallet_sign",
		Params: json.RawMessage(`["hello"]`),
	})
	if err != nil {
		log.Fatalf("Ephemeral flow failed: %v", err)
	}
	log.Printf("wallet_sign: %s", string(signature))
}
