package broker

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/casualjim/desktopagent/transport"
	"github.com/go-openapi/strfmt"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State is the connection state of a peer.
type State string

const (
	Connecting State = "connecting"
	Connected  State = "connected"
)

// PeerInfo is a snapshot of a peer.
type PeerInfo struct {
	InstanceID  string          `json:"instanceId"`
	Name        string          `json:"name,omitempty"`
	URL         string          `json:"url"`
	Origin      string          `json:"origin,omitempty"`
	State       State           `json:"state"`
	Channel     string          `json:"channel,omitempty"`
	Listeners   []string        `json:"listeners,omitempty"`
	LaunchedAt  strfmt.DateTime `json:"launchedAt"`
	ConnectedAt strfmt.DateTime `json:"connectedAt,omitempty"`
}

type peer struct {
	id     string
	name   string
	url    string
	origin string
	conn   transport.Conn

	mu          sync.Mutex
	state       State
	channel     string
	launchedAt  strfmt.DateTime
	connectedAt strfmt.DateTime
	// owned listener key -> release
	owned *orderedmap.OrderedMap[string, func()]
}

func newPeer(id, name, url, origin string, conn transport.Conn) *peer {
	return &peer{
		id:         id,
		name:       name,
		url:        url,
		origin:     origin,
		conn:       conn,
		state:      Connecting,
		launchedAt: strfmt.DateTime(time.Now()),
		owned:      orderedmap.New[string, func()](),
	}
}

func (p *peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *peer) connect(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Connected {
		p.state = Connected
		p.connectedAt = strfmt.DateTime(time.Now())
	}
	p.channel = channel
}

func (p *peer) join(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = channel
}

func (p *peer) own(key string, release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owned.Set(key, release)
}

func (p *peer) disown(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owned.Delete(key)
}

// releaseAll runs every release func in the order the listeners were added.
func (p *peer) releaseAll() int {
	p.mu.Lock()
	releases := make([]func(), 0, p.owned.Len())
	for pair := p.owned.Oldest(); pair != nil; pair = pair.Next() {
		releases = append(releases, pair.Value)
	}
	p.owned = orderedmap.New[string, func()]()
	p.mu.Unlock()

	for _, release := range releases {
		release()
	}
	return len(releases)
}

func (p *peer) info() PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := PeerInfo{
		InstanceID:  p.id,
		Name:        p.name,
		URL:         p.url,
		Origin:      p.origin,
		State:       p.state,
		Channel:     p.channel,
		LaunchedAt:  p.launchedAt,
		ConnectedAt: p.connectedAt,
	}
	for pair := p.owned.Oldest(); pair != nil; pair = pair.Next() {
		info.Listeners = append(info.Listeners, pair.Key)
	}
	return info
}

func sortPeers(infos []PeerInfo) {
	slices.SortFunc(infos, func(a, b PeerInfo) int {
		if c := time.Time(a.LaunchedAt).Compare(time.Time(b.LaunchedAt)); c != 0 {
			return c
		}
		return cmp.Compare(a.InstanceID, b.InstanceID)
	})
}
