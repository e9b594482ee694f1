// Connection handling for the binary protocol (spec §4.I). The original
// is an epoll-based reactor with a bounded worker pool explicitly
// multiplexing many sockets over few OS threads; Go's net package and
// goroutine-per-connection model already IS that reactor (the runtime's
// netpoller parks goroutines blocked on socket I/O without consuming an
// OS thread, using epoll/kqueue under the hood exactly as spec §4.I
// describes at a lower level). Re-implementing epoll_wait by hand via
// golang.org/x/sys/unix would fight the runtime instead of using it, and
// no repo in the reference corpus hand-rolls a reactor in Go — this is
// the idiomatic Go translation of §4.I, not a simplification of it.
// max_workers is preserved as a semaphore bounding concurrently
// in-flight request processing (the same "don't let unbounded work pile
// up" guarantee §4.I's worker cap provides), while accept and idle
// connections remain cheap parked goroutines.
package dbserver

import (
	"bufio"
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/aurorakv/recdb/internal/dbproto"
)

// Serve accepts connections on ln until ctx is canceled, handling each
// with the binary protocol after an HTTP-upgrade handshake (spec §4.J).
func (svc *Service) Serve(ctx context.Context, ln net.Listener) error {
	sem := make(chan struct{}, svc.cfg.MaxWorkers)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go svc.serveConn(ctx, conn, sem)
	}
}

func (svc *Service) serveConn(ctx context.Context, conn net.Conn, sem chan struct{}) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	proto, err := dbproto.ReadUpgradeRequest(r)
	if err != nil {
		svc.cfg.Logger.Debug("dbserver: upgrade failed", zap.Error(err))
		return
	}
	if err := dbproto.WriteUpgradeResponse(conn, proto); err != nil {
		return
	}

	sess := &session{svc: svc}
	// DB sessions override the generic idle timeout to 86400s (spec §5);
	// this server only ever speaks the database protocol, never search.
	idle := 86400 * time.Second
	if proto != dbproto.UpgradeProtocol {
		idle = svc.cfg.MaxIdle
	}

	for {
		if idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}
		h, body, err := dbproto.ReadFrame(r)
		if err != nil {
			return
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		err = sess.Process(conn, h, body)
		<-sem

		if err != nil {
			svc.cfg.Logger.Debug("dbserver: session error", zap.Error(err))
			return
		}
	}
}
