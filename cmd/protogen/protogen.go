// Command protogen queries a gRPC server's reflection services and writes
// .proto files approximating its API surface. It is intended for servers
// whose schema sources are not otherwise available: the output is a
// best-effort reconstruction from reflection metadata, not a faithful copy
// of the original sources.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/Cordtus/protogen"
)

var (
	exit = os.Exit

	help = flag.Bool("help", false,
		`Print usage instructions and exit.`)
	plaintext = flag.Bool("plaintext", false,
		`Use plain-text HTTP/2 when connecting to server (no TLS).`)
	insecureFlag = flag.Bool("insecure", false,
		`Skip server certificate and domain verification. (NOT SECURE!). Not
    	valid with -plaintext option.`)
	cacert = flag.String("cacert", "",
		`File containing trusted root certificates for verifying the server.
    	Ignored if -insecure is specified.`)
	cert = flag.String("cert", "",
		`File containing client certificate (public key), to present to the
    	server. Not valid with -plaintext option. Must also provide -key option.`)
	key = flag.String("key", "",
		`File containing client private key, to present to the server. Not valid
    	with -plaintext option. Must also provide -cert option.`)
	connectTimeout = flag.String("connect-timeout", "",
		`The maximum time, in seconds, to wait for connection to be established.
    	Defaults to 10 seconds.`)
	outDir = flag.String("o", "protos",
		`Directory the generated schema files are written to. Created if absent;
    	existing files are overwritten.`)
	archive = flag.Bool("archive", false,
		`Package the output directory into a sibling .tar.gz archive after
    	writing.`)
	verbose = flag.Bool("v", false,
		`Enable verbose output.`)
	serverName = flag.String("servername", "", "Override servername when validating TLS certificate.")
)

func main() {
	flag.CommandLine.Usage = usage
	flag.Parse()
	if *help {
		usage()
		os.Exit(0)
	}

	if *plaintext && *insecureFlag {
		fail(nil, "The -plaintext and -insecure arguments are mutually exclusive.")
	}
	if *plaintext && *cert != "" {
		fail(nil, "The -plaintext and -cert arguments are mutually exclusive.")
	}
	if *plaintext && *key != "" {
		fail(nil, "The -plaintext and -key arguments are mutually exclusive.")
	}
	if (*key == "") != (*cert == "") {
		fail(nil, "The -cert and -key arguments must be used together and both be present.")
	}
	if *plaintext && *serverName != "" {
		warn("The -servername argument is not used with -plaintext option.")
	}

	args := flag.Args()
	if len(args) > 1 {
		fail(nil, "Too many arguments.")
	}
	var target string
	if len(args) == 1 {
		target = args[0]
	}

	// With no address on the command line, fall back to interactive prompts.
	if target == "" {
		r := bufio.NewReader(os.Stdin)
		target = promptString(r, "Server address (host:port): ")
		if target == "" {
			fail(nil, "No host:port specified.")
		}
		if !*plaintext {
			*plaintext = promptBool(r, "Connect without TLS (plaintext)? [y/N]: ")
		}
		if !*archive {
			*archive = promptBool(r, "Package output into a .tar.gz archive? [y/N]: ")
		}
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()

	dial := func() *grpc.ClientConn {
		dialTime := 10 * time.Second
		if *connectTimeout != "" {
			t, err := strconv.ParseFloat(*connectTimeout, 64)
			if err != nil {
				fail(nil, "The -connect-timeout argument must be a valid number.")
			}
			dialTime = time.Duration(t * float64(time.Second))
		}
		ctx, cancel := context.WithTimeout(ctx, dialTime)
		defer cancel()
		var creds credentials.TransportCredentials
		if !*plaintext {
			var err error
			creds, err = protogen.ClientTransportCredentials(*insecureFlag, *cacert, *cert, *key)
			if err != nil {
				fail(err, "Failed to configure transport credentials")
			}
			if *serverName != "" {
				if err := creds.OverrideServerName(*serverName); err != nil {
					fail(err, "Failed to override server name as %q", *serverName)
				}
			}
		}
		cc, err := protogen.BlockingDial(ctx, "tcp", target, creds)
		if err != nil {
			fail(err, "Failed to dial target host %q", target)
		}
		return cc
	}

	cc := dial()
	src := protogen.SourceFromServer(ctx, cc)

	// arrange for the RPCs to be cleanly shutdown
	reset := func() {
		if src != nil {
			src.Reset()
			src = nil
		}
		if cc != nil {
			cc.Close()
			cc = nil
		}
	}
	defer reset()
	exit = func(code int) {
		// since defers aren't run by os.Exit...
		reset()
		os.Exit(code)
	}

	cat := protogen.NewCollector(src, logger).Collect()
	files := protogen.Synthesize(cat)

	if err := protogen.Write(files, *outDir); err != nil {
		fail(err, "Failed to write schema files under %q", *outDir)
	}
	fmt.Printf("Wrote %d schema files under %s\n", len(files), *outDir)

	if *archive {
		path, err := protogen.Archive(*outDir)
		if err != nil {
			fail(err, "Failed to archive %q", *outDir)
		}
		fmt.Printf("Archived output to %s\n", path)
	}

	if len(cat.Missing) > 0 {
		fmt.Println()
		fmt.Println("Reflection methods not available on this server:")
		for _, m := range cat.Missing {
			fmt.Printf("  %s\n", m)
		}
	}
}

func promptString(r *bufio.Reader, prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptBool(r *bufio.Reader, prompt string) bool {
	answer := strings.ToLower(promptString(r, prompt))
	return answer == "y" || answer == "yes"
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
	%s [flags] [address]

The address will typically be in the form "host:port" where host can be an IP
address or a hostname and port is a numeric port or service name. If an IPv6
address is given, it must be surrounded by brackets, like "[2001:db8::1]".
If no address is given, it is prompted for interactively, along with the
transport mode and whether to archive the output.

The server's reflection services are queried to discover exposed services,
registered interfaces and their implementations, and the fixed set of app
descriptors. A .proto file is synthesized for each discovery under the output
directory (see -o), laid out by package. Reflection methods the server does
not implement are skipped and listed in a summary at the end; they never
abort the run.
`, os.Args[0])
	flag.PrintDefaults()
}

func warn(msg string, args ...interface{}) {
	msg = fmt.Sprintf("Warning: %s\n", msg)
	fmt.Fprintf(os.Stderr, msg, args...)
}

func fail(err error, msg string, args ...interface{}) {
	if err != nil {
		msg += ": %v"
		args = append(args, err)
	}
	fmt.Fprintf(os.Stderr, msg, args...)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		exit(1)
	} else {
		// nil error means it was CLI usage issue
		fmt.Fprintf(os.Stderr, "Try '%s -help' for more details.\n", os.Args[0])
		exit(2)
	}
}
