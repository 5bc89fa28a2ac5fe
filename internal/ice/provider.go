// Package ice acquires the ICE server list (STUN/TURN) used both for SFU
// transport creation and for the client-side RTCPeerConnection config. The
// list is fetched once at startup from the Xirsys credential service and
// cached for the process lifetime; any failure falls back to public STUN.
package ice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/webhangin/backend/internal/config"
	"github.com/webhangin/backend/internal/protocol"
)

const defaultEndpoint = "https://global.xirsys.net/_turn"

type xirsysServers struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
}

type xirsysResponse struct {
	V *struct {
		IceServers *xirsysServers `json:"iceServers"`
	} `json:"v"`
	S string `json:"s"`
}

// Provider fetches and caches ICE server groups.
type Provider struct {
	Endpoint string
	Client   *http.Client

	creds   config.Xirsys
	once    sync.Once
	servers []protocol.IceServer
}

func NewProvider(creds config.Xirsys) *Provider {
	return &Provider{
		Endpoint: defaultEndpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
		creds:    creds,
	}
}

// Fetch resolves the ICE server list exactly once. Subsequent calls return
// the cached result.
func (p *Provider) Fetch(ctx context.Context) []protocol.IceServer {
	p.once.Do(func() {
		p.servers = p.fetch(ctx)
	})
	return p.servers
}

func (p *Provider) fetch(ctx context.Context) []protocol.IceServer {
	logger := log.With().Str("module", "ice").Logger()

	if p.creds.Username == "" || p.creds.Secret == "" {
		logger.Warn().Msg("xirsys credentials not set, using default STUN servers only")
		return FallbackServers()
	}

	url := fmt.Sprintf("%s/%s", p.Endpoint, p.creds.Channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, strings.NewReader(`{"format":"urls"}`))
	if err != nil {
		logger.Error().Err(err).Msg("building xirsys request")
		return FallbackServers()
	}
	auth := base64.StdEncoding.EncodeToString([]byte(p.creds.Username + ":" + p.creds.Secret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("xirsys request failed")
		return FallbackServers()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error().Int("status", resp.StatusCode).Msg("xirsys returned non-ok status")
		return FallbackServers()
	}

	var data xirsysResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		logger.Error().Err(err).Msg("parsing xirsys response")
		return FallbackServers()
	}
	if data.V == nil || data.V.IceServers == nil {
		logger.Warn().Str("s", data.S).Msg("xirsys response missing ice servers")
		return FallbackServers()
	}

	servers := splitServers(*data.V.IceServers)
	if len(servers) == 0 {
		logger.Warn().Msg("xirsys returned no usable urls")
		return FallbackServers()
	}
	logger.Info().Int("groups", len(servers)).Str("channel", p.creds.Channel).Msg("configured ice servers from xirsys")
	return servers
}

// splitServers separates the flat Xirsys url list into a credential-free STUN
// group and a TURN group carrying the returned username/credential pair.
func splitServers(src xirsysServers) []protocol.IceServer {
	var stun, turn []string
	for _, u := range src.URLs {
		switch {
		case strings.HasPrefix(u, "stun:"):
			stun = append(stun, u)
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			turn = append(turn, u)
		}
	}

	var servers []protocol.IceServer
	if len(stun) > 0 {
		servers = append(servers, protocol.IceServer{URLs: stun})
	}
	if len(turn) > 0 {
		servers = append(servers, protocol.IceServer{
			URLs:       turn,
			Username:   src.Username,
			Credential: src.Credential,
		})
	}
	return servers
}

// FallbackServers is the public STUN list used when Xirsys is unavailable.
func FallbackServers() []protocol.IceServer {
	return []protocol.IceServer{{
		URLs: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
			"stun:stun.cloudflare.com:3478",
		},
	}}
}

// RTCServers converts the serializable form into pion's configuration type,
// consumed when creating SFU transports.
func RTCServers(servers []protocol.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
