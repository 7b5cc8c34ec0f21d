package relay

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is a development backend implementing the connect/confirm relay endpoints. It trusts every
// certificate it sees and hands out random PINs.
type Server struct {
	issueTokens bool
	pins        func() uint32
	tokens      func() uint32

	lock    sync.Mutex
	pending map[string]string // certificate fingerprint -> relay nonce
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var request connectRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&request); decodeErr != nil || request.Cert == "" {
		http.Error(w, "request must be a JSON object with a non-empty cert", http.StatusBadRequest)
		return
	}
	nonce := hex.EncodeToString(randomBytes(16))
	s.lock.Lock()
	s.pending[fingerprint(request.Cert)] = nonce
	s.lock.Unlock()
	logrus.Infof("Relay connect for certificate %s", fingerprint(request.Cert)[:16])
	writeJSON(w, map[string]string{"relay": nonce})
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var request map[string]json.RawMessage
	if decodeErr := json.NewDecoder(r.Body).Decode(&request); decodeErr != nil {
		http.Error(w, "request must be a JSON object", http.StatusBadRequest)
		return
	}
	var cert string
	if rawCert, ok := request["cert"]; !ok || json.Unmarshal(rawCert, &cert) != nil || cert == "" {
		http.Error(w, "request must carry a cert", http.StatusBadRequest)
		return
	}
	s.lock.Lock()
	_, known := s.pending[fingerprint(cert)]
	delete(s.pending, fingerprint(cert))
	s.lock.Unlock()
	if !known {
		http.Error(w, "no pending connect for this certificate", http.StatusConflict)
		return
	}
	confirmation := Confirmation{PIN: s.pins()}
	if s.issueTokens {
		tokenID := s.tokens()
		confirmation.TokenID = &tokenID
	}
	logrus.Infof("Relay confirm for certificate %s", fingerprint(cert)[:16])
	writeJSON(w, confirmation)
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc(connectPath, s.connect).Methods(http.MethodPost)
	router.HandleFunc(confirmPath, s.confirm).Methods(http.MethodPost)
	return router
}

// ServerOption configures the development backend
type ServerOption func(*Server)

// WithTokens makes the server provision fast-connect tokens on confirm
func WithTokens() ServerOption {
	return func(s *Server) {
		s.issueTokens = true
	}
}

// WithPINs overrides the PIN generator
func WithPINs(pins func() uint32) ServerOption {
	return func(s *Server) {
		s.pins = pins
	}
}

// WithTokenIDs overrides the token id generator
func WithTokenIDs(tokens func() uint32) ServerOption {
	return func(s *Server) {
		s.tokens = tokens
	}
}

// NewServer creates a development relay backend
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		pins: func() uint32 {
			return 100000 + binary.LittleEndian.Uint32(randomBytes(4))%900000
		},
		tokens: func() uint32 {
			return binary.LittleEndian.Uint32(randomBytes(4))
		},
		pending: map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if encodeErr := json.NewEncoder(w).Encode(v); encodeErr != nil {
		logrus.Errorf("Failed to write response body: %v", encodeErr)
	}
}

func fingerprint(cert string) string {
	sum := sha256.Sum256([]byte(cert))
	return hex.EncodeToString(sum[:])
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		logrus.Panicf("Failed to read random bytes: %v", err)
	}
	return b
}
