package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryandielhenn/pingparty/pkg/gossip"
)

var (
	probeTimeout time.Duration
	localAddr    string
)

func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <host:port>",
		Short: `Ask a node "Are you there?" and wait for its answer`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := netip.ParseAddrPort(args[0])
			if err != nil {
				return fmt.Errorf("invalid target: %w", err)
			}
			tr, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			p, from, rtt, err := probe(cmd.Context(), tr, target, probeTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is here: frequency=%s rtt=%s\n", from, p.Interval(), rtt.Round(time.Microsecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&probeTimeout, "timeout", 2*time.Second, "How long to wait for an answer")
	cmd.Flags().StringVar(&localAddr, "local", "0.0.0.0:0", "Local address to send from")
	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <host:port>",
		Short: "Send STOP! to a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := netip.ParseAddrPort(args[0])
			if err != nil {
				return fmt.Errorf("invalid target: %w", err)
			}
			tr, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			if err := send(tr, gossip.Stop{}, target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent stop to %s\n", target)
			return nil
		},
	}
}

func openClient(ctx context.Context) (*gossip.UDPTransport, error) {
	local := localAddr
	if local == "" {
		local = "0.0.0.0:0"
	}
	addr, err := netip.ParseAddrPort(local)
	if err != nil {
		return nil, fmt.Errorf("invalid local address: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return gossip.ListenUDP(ctx, addr)
}

func send(tr gossip.Transport, m gossip.Message, to netip.AddrPort) error {
	b, err := gossip.Encode(m)
	if err != nil {
		return err
	}
	return tr.Send(b, to)
}

var errNoAnswer = errors.New("no answer")

// probe sends a Query to target and waits for a Presence from it. Other
// datagrams, such as broadcasts that happen to arrive, are skipped.
func probe(ctx context.Context, tr gossip.Transport, target netip.AddrPort, timeout time.Duration) (gossip.Presence, netip.AddrPort, time.Duration, error) {
	type answer struct {
		p    gossip.Presence
		from netip.AddrPort
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		buf := make([]byte, gossip.MaxDatagramSize)
		for {
			n, from, err := tr.Receive(buf)
			if err != nil {
				answers <- answer{err: err}
				return
			}
			if from != target {
				continue
			}
			if m, err := gossip.Decode(buf[:n]); err == nil {
				if p, ok := m.(gossip.Presence); ok {
					answers <- answer{p: p, from: from}
					return
				}
			}
		}
	}()

	start := time.Now()
	if err := send(tr, gossip.Query{}, target); err != nil {
		return gossip.Presence{}, netip.AddrPort{}, 0, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case a := <-answers:
		return a.p, a.from, time.Since(start), a.err
	case <-ctx.Done():
		// Unblocks the receiver goroutine.
		tr.Close()
		return gossip.Presence{}, netip.AddrPort{}, 0, fmt.Errorf("%w from %s within %s", errNoAnswer, target, timeout)
	}
}
