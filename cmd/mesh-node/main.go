package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"meshnode/internal/appdata"
	"meshnode/internal/crypto/channel"
	"meshnode/internal/gossip"
	"meshnode/internal/mesh"
	"meshnode/internal/netx"
	"meshnode/internal/proto"
	"meshnode/internal/storage/packetbolt"
)

func main() {
	name := flag.String("name", "anon", "display name")
	bind := flag.String("bind", ":0", "bind address (e.g. :0 for random port)")
	bootstrapStr := flag.String("bootstrap", "", "comma-separated bootstrap addresses host:port")
	keyHex := flag.String("key", "", "hex channel key for /seal (32 bytes)")
	debug := flag.Bool("debug", false, "verbose logging")
	noArchive := flag.Bool("no-archive", false, "disable the on-disk packet archive")
	flag.Parse()

	var bootstraps []netx.Addr
	if *bootstrapStr != "" {
		for _, part := range strings.Split(*bootstrapStr, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				bootstraps = append(bootstraps, netx.Addr(part))
			}
		}
	}

	var chanKey channel.Key
	haveKey := false
	if *keyHex != "" {
		k, err := channel.ParseKeyHex(*keyHex)
		if err != nil {
			log.Fatalf("bad channel key: %v", err)
		}
		chanKey = k
		haveKey = true
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	metrics := &gossip.AtomicMetrics{}

	gcfg := gossip.DefaultConfig()
	gcfg.Logger = logger
	gcfg.Debug = *debug
	gcfg.VerifySignatures = true
	gcfg.Metrics = metrics

	if !*noArchive {
		archive, err := packetbolt.Open(appdata.Path("packets.db"))
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
		defer archive.Close()
		gcfg.Archive = archive
	}

	n, err := mesh.NewNode(mesh.Config{
		Nickname:   *name,
		Network:    netx.NewTCPNetwork(),
		BindAddr:   *bind,
		Bootstraps: bootstraps,
		Logger:     logger,
		Debug:      *debug,
		Gossip:     gcfg,
	})
	if err != nil {
		log.Fatalf("create node: %v", err)
	}

	if err := n.Start(); err != nil {
		log.Fatalf("start node: %v", err)
	}

	fmt.Printf("Node started.\n")
	fmt.Printf("ID:		%s\n", n.ID())
	fmt.Printf("Addr:	%s\n\n", n.ListenAddr())
	fmt.Println("Commands:")
	fmt.Println("	/say <message>		- broadcast a chat message")
	fmt.Println("	/seal <message>	- broadcast encrypted under the channel key")
	fmt.Println("	/peers			- list connected peers")
	fmt.Println("	/stats			- show store and engine counters")
	fmt.Println("	/quit			- announce departure and exit")
	fmt.Println()

	// Peer lifecycle printer.
	go func() {
		for ev := range n.Events() {
			switch ev.Type {
			case mesh.EventPeerConnected:
				fmt.Printf("[MESH] peer up: %s (%s)\n", ev.PeerName, short(ev.PeerID))
			case mesh.EventPeerDisconnected:
				fmt.Printf("[MESH] peer down: %s (%s)\n", ev.PeerName, short(ev.PeerID))
			}
		}
	}()

	// Reader for stdin.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			switch {

			case strings.HasPrefix(line, "/quit"):
				fmt.Println("quitting...")
				n.Leave()
				_ = n.Stop()
				os.Exit(0)

			case strings.HasPrefix(line, "/say "):
				n.SendMessage(strings.TrimSpace(strings.TrimPrefix(line, "/say")))

			case strings.HasPrefix(line, "/seal "):
				if !haveKey {
					fmt.Println("no channel key; restart with -key <hex>")
					continue
				}
				sealed, err := channel.Seal(chanKey, []byte(strings.TrimSpace(strings.TrimPrefix(line, "/seal"))))
				if err != nil {
					fmt.Printf("seal failed: %v\n", err)
					continue
				}
				n.SendSealed(sealed)

			case line == "/peers":
				peers := n.ConnectedPeers()
				fmt.Printf("== %d peers ==\n", len(peers))
				for i, id := range peers {
					fmt.Printf("%2d. %s\n", i+1, short(id))
				}

			case line == "/stats":
				msgs, frags, files, anns := n.Engine().StoredCounts()
				fmt.Printf("stored: %d messages, %d fragments, %d files, %d announces\n",
					msgs, frags, files, anns)
				for k, v := range metrics.Snapshot() {
					fmt.Printf("	%s: %d\n", k, v)
				}

			default:
				fmt.Println("unknown command")
			}
		}
	}()

	// Receive loop for mesh packets.
	for pkt := range n.Incoming() {
		from := n.Engine().NicknameOf(pkt.SenderID)
		if from == "" {
			from = fmt.Sprintf("%x", pkt.SenderID[:4])
		}

		switch pkt.Type {
		case proto.TypeMessage:
			fmt.Printf("[CHAT] %s: %s\n", from, pkt.Payload)

		case proto.TypeNoiseEncrypted:
			if !haveKey {
				continue
			}
			plain, err := channel.Open(chanKey, pkt.Payload)
			if err != nil {
				continue // not our channel
			}
			fmt.Printf("[SEALED] %s: %s\n", from, plain)
		}
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
