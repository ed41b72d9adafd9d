package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/nalrelay/pkg/version"
)

func main() {
	var (
		target      string
		interval    time.Duration
		useHTTP3    bool
		insecure    bool
		showVersion bool
	)

	flag.StringVar(&target, "url", "http://localhost:8080", "Relay API base URL")
	flag.DurationVar(&interval, "interval", time.Second, "Poll interval")
	flag.BoolVar(&useHTTP3, "h3", false, "Use HTTP/3 (requires an https URL)")
	flag.BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: insecure}

	client := &http.Client{Timeout: 10 * time.Second}
	if useHTTP3 {
		client.Transport = &http3.RoundTripper{TLSClientConfig: tlsConfig}
	} else {
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	m := newModel(newAPIClient(target, client), target, interval)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "naltop: %v\n", err)
		os.Exit(1)
	}
}
