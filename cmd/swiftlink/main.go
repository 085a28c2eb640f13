// Command swiftlink runs the DNS gateway: a DNS front end backed by the
// fake-IP/forward handler chain, and a SOCKS4/4a/5 ingress dispatching
// accepted connections directly to their (possibly fake-IP-resolved)
// target.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	goFlags "github.com/jessevdk/go-flags"

	"github.com/feifeigood/swiftlink/config"
	"github.com/feifeigood/swiftlink/fakeip"
	"github.com/feifeigood/swiftlink/handler"
	"github.com/feifeigood/swiftlink/inbound"
	"github.com/feifeigood/swiftlink/internal/auth"
	"github.com/feifeigood/swiftlink/internal/shutdown"
	"github.com/feifeigood/swiftlink/server"
)

// socksDialTimeout bounds DirectDispatcher's outbound dial.
const socksDialTimeout = 10 * time.Second

// coresEnv is read to override GOMAXPROCS at startup, matching rt.rs's
// worker-pool sizing knob. Go's scheduler needs only a goroutine count,
// not a choice between single- and multi-threaded runtimes.
const coresEnv = "SWIFTLINK_CORES"

// runCommand is the "run" subcommand's flag surface.
type runCommand struct {
	Conf    string `short:"c" long:"conf" description:"Path to the TOML configuration file" default:"swiftlink.toml"`
	HomeDir string `long:"home-dir" description:"Working directory; relative paths in the configuration (fake-IP store, log file) resolve against this"`
	Verbose bool   `long:"verbose" description:"Enable debug logging" optional:"yes" optional-value:"true"`
}

// Execute implements go-flags' Commander interface.
func (cmd *runCommand) Execute(_ []string) error {
	return run(cmd)
}

type options struct {
	Run runCommand `command:"run" description:"Run the swiftlink gateway"`
}

func main() {
	applyCoreOverride()

	opts := &options{}
	parser := goFlags.NewParser(opts, goFlags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// applyCoreOverride sets GOMAXPROCS from SWIFTLINK_CORES when it names a
// valid positive core count, clamped to the machine's CPU count.
func applyCoreOverride() {
	v := os.Getenv(coresEnv)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Error("swiftlink: %s=%q is not a positive integer, ignoring", coresEnv, v)
		return
	}
	if max := runtime.NumCPU(); n > max {
		n = max
	}
	runtime.GOMAXPROCS(n)
}

func run(cmd *runCommand) error {
	if cmd.HomeDir != "" {
		if err := os.Chdir(cmd.HomeDir); err != nil {
			log.Fatalf("swiftlink: changing to home directory %s: %s", cmd.HomeDir, err)
		}
	}

	cfg, err := config.LoadFromFile(cmd.Conf)
	if err != nil {
		log.Fatalf("swiftlink: %s", err)
	}

	closeLog := setupLogging(cfg, cmd.Verbose)
	defer closeLog()

	log.Info("swiftlink: using configuration file %s", cfg.SourcePath())

	fakeDNS, err := buildFakeDNS(cfg)
	if err != nil {
		log.Fatalf("swiftlink: fake-ip: %s", err)
	}

	group, err := buildResolverGroup(cfg)
	if err != nil {
		log.Fatalf("swiftlink: resolver: %s", err)
	}

	chain, err := buildHandlerChain(cfg, fakeDNS, group)
	if err != nil {
		log.Fatalf("swiftlink: handler chain: %s", err)
	}

	authenticator, err := cfg.Authenticator()
	if err != nil {
		log.Fatalf("swiftlink: %s", err)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	var wg sync.WaitGroup

	if cfg.DNS.Enable {
		startDNSServer(ctx, &wg, cfg, chain)
	}

	if cfg.SocksPort > 0 {
		startSOCKSIngress(ctx, &wg, cfg, fakeDNS, authenticator)
	}

	coordinator := shutdown.New(shutdown.DefaultGracePeriod)
	coordinator.Await(ctx, wg.Wait)

	log.Info("swiftlink: shutdown complete")
	return nil
}

func startDNSServer(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, chain *handler.Chain) {
	srv := server.New(server.Config{
		Addr:          cfg.ResolvedDNSListener().Addr.String(),
		EnableTCP:     true,
		Chain:         chain,
		HandlerConfig: &handler.Config{},
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			log.Error("swiftlink: dns server: %s", err)
		}
	}()
}

func startSOCKSIngress(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	fakeDNS *fakeip.FakeDNS,
	authenticator *auth.Authenticator,
) {
	addr := socksListenAddr(cfg)

	// The UDP relay is bound before the TCP listener starts accepting so
	// every SOCKS5 UDP ASSOCIATE reply can report its real address.
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.Fatalf("swiftlink: socks: %s", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatalf("swiftlink: socks: listening on %s: %s", addr, err)
	}

	svc := &inbound.ServiceContext{
		Dispatcher:    &inbound.DirectDispatcher{FakeDNS: fakeDNS, DialTimeout: socksDialTimeout},
		Authenticator: authenticator,
		UDPRelayAddr:  udpConn.LocalAddr().(*net.UDPAddr),
	}

	tcpLn, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("swiftlink: socks: listening on %s: %s", addr, err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := inbound.ServeSOCKSTCP(ctx, tcpLn, svc); err != nil && ctx.Err() == nil {
			log.Error("swiftlink: socks tcp: %s", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := inbound.ServeSOCKSUDP(ctx, udpConn, 0); err != nil && ctx.Err() == nil {
			log.Error("swiftlink: socks udp: %s", err)
		}
	}()
}

// socksListenAddr builds the SOCKS ingress bind address from
// InterfaceName (empty means all interfaces) and SocksPort.
func socksListenAddr(cfg *config.Config) string {
	host := cfg.InterfaceName
	return net.JoinHostPort(host, fmt.Sprintf("%d", cfg.SocksPort))
}
