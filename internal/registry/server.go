package registry

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/op/go-logging"

	"edna.io/edna/internal/aid"
	"edna.io/edna/internal/frame"
)

// acceptTick is the idiomatic Go replacement for edna_comm.cpp's 10ms
// select() tick ahead of accept: a listener deadline re-armed every
// tick so Shutdown pre-empts the accept loop within one tick, without a
// hand-rolled select().
const acceptTick = 10 * time.Millisecond

// Wire protocol command octets, from edna_proto.h.
const (
	opGetAPIVersion = 0x01
	opRegisterAID   = 0x02
	opDisconnect    = 0x03
	opPowerUp       = 0x04
	opPowerDown     = 0x05

	apiVersion = 0x00

	statusOK        = 0x00
	statusAIDExists = 0x01
)

// Server owns the rendezvous listening socket and the Registry, and
// exposes the synchronous operations the Emulation Engine drives:
// Transceive, PowerUp, and PowerDown.
type Server struct {
	log        *logging.Logger
	socketPath string
	listener   *net.UnixListener

	mu  sync.Mutex
	reg *Registry

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Listen binds a Unix domain socket at socketPath, unlinking any stale
// file left behind by an unclean previous shutdown, and listens with the
// system's default backlog: net.ListenUnix takes no backlog argument, so
// the original's EDNA_BACKLOG of 5 is not applied.
func Listen(socketPath string, log *logging.Logger) (*Server, error) {
	_ = os.Remove(socketPath)
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		log:        log,
		socketPath: socketPath,
		listener:   ln,
		reg:        newRegistry(),
		shutdown:   make(chan struct{}),
	}, nil
}

// Serve runs the accept loop until Shutdown is called. It returns once
// the loop has exited and every open connection has been closed.
func (s *Server) Serve() {
	for {
		select {
		case <-s.shutdown:
			s.teardownAll()
			return
		default:
		}

		s.listener.SetDeadline(time.Now().Add(acceptTick))
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				s.teardownAll()
				return
			default:
				s.log.Warningf("accept error: %v", err)
				continue
			}
		}

		s.log.Infof("new client connection from %s", conn.RemoteAddr())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handshake(conn)
		}()
	}
}

// Shutdown stops the accept loop, closes every registered client and
// the listening socket, and unlinks the socket file.
func (s *Server) Shutdown() {
	close(s.shutdown)
	s.wg.Wait()
}

func (s *Server) teardownAll() {
	s.mu.Lock()
	for _, c := range s.reg.clients {
		c.conn.Close()
	}
	s.reg.clients = map[string]*Client{}
	s.reg.selected = nil
	s.mu.Unlock()

	s.listener.Close()
	_ = os.Remove(s.socketPath)
}

// handshake runs the strict three-step dialogue of spec.md §4.2 for a
// freshly-accepted connection: any deviation closes the socket without
// touching the registry.
func (s *Server) handshake(conn net.Conn) {
	msg, err := frame.ReadMessage(conn)
	if err != nil || len(msg) != 1 || msg[0] != opGetAPIVersion {
		s.log.Warning("client used invalid protocol during version handshake, disconnecting")
		conn.Close()
		return
	}
	if err := frame.WriteMessage(conn, []byte{apiVersion}); err != nil {
		conn.Close()
		return
	}

	msg, err = frame.ReadMessage(conn)
	if err != nil || len(msg) < 2 || msg[0] != opRegisterAID {
		s.log.Warning("invalid AID registration, disconnecting client")
		conn.Close()
		return
	}
	requestedAID := aid.AID(append([]byte{}, msg[1:]...))

	s.mu.Lock()
	client, err := s.reg.register(conn, requestedAID)
	s.mu.Unlock()

	if err != nil {
		s.log.Warningf("client attempted to register AID %s, which is already registered", requestedAID)
		frame.WriteMessage(conn, []byte{statusAIDExists})
		conn.Close()
		return
	}

	if err := frame.WriteMessage(conn, []byte{statusOK}); err != nil {
		s.log.Warningf("failed to acknowledge AID registration for %s", requestedAID)
		s.mu.Lock()
		s.reg.remove(client)
		s.mu.Unlock()
		return
	}

	s.log.Infof("client %s registered AID %s", client.ID(), requestedAID)
	s.readLoop(client)
}

// readLoop is the sole goroutine that ever calls Read on client.conn.
// It decodes DISCONNECT itself (spec.md §9 open question (a): the
// original never parses this opcode at all; here it tears the
// connection down exactly as a transport failure would, with no
// reply). Every other frame — an R-APDU or a POWER_UP/DOWN
// acknowledgement — is handed to whichever Transceive/PowerUp/PowerDown
// call on the engine side is currently waiting for this client's reply.
func (s *Server) readLoop(client *Client) {
	for {
		msg, err := frame.ReadMessage(client.conn)
		if err != nil {
			s.teardown(client)
			return
		}
		if len(msg) == 1 && msg[0] == opDisconnect {
			s.log.Infof("client %s sent DISCONNECT", client.ID())
			s.teardown(client)
			return
		}
		select {
		case client.incoming <- msg:
		case <-client.closed:
			return
		}
	}
}

func (s *Server) teardown(client *Client) {
	s.mu.Lock()
	s.reg.remove(client)
	s.mu.Unlock()
}
