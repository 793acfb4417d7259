package webrtc

import (
	"fmt"

	"github.com/pion/transport/v4/vnet"
	pion "github.com/pion/webrtc/v4"

	"eyeconnect/native/internal/logging"
)

// VirtualLAN is an in-memory network that lets several engines in one
// process connect without touching real interfaces.
type VirtualLAN struct {
	router *vnet.Router
	nets   []*vnet.Net
}

// NewVirtualLAN starts a router for cidr with one host per ip.
func NewVirtualLAN(cidr string, ips ...string) (*VirtualLAN, error) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.PionFactory(),
	})
	if err != nil {
		return nil, fmt.Errorf("new router: %w", err)
	}

	lan := &VirtualLAN{router: router}
	for _, ip := range ips {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		if err != nil {
			return nil, fmt.Errorf("new net %s: %w", ip, err)
		}
		if err := router.AddNet(n); err != nil {
			return nil, fmt.Errorf("add net %s: %w", ip, err)
		}
		lan.nets = append(lan.nets, n)
	}

	if err := router.Start(); err != nil {
		return nil, fmt.Errorf("start router: %w", err)
	}
	return lan, nil
}

// Settings returns an APIConfig.ConfigureSettings hook binding an engine to
// host i.
func (l *VirtualLAN) Settings(i int) func(*pion.SettingEngine) {
	n := l.nets[i]
	return func(se *pion.SettingEngine) {
		se.SetNet(n)
	}
}

func (l *VirtualLAN) Close() error {
	return l.router.Stop()
}
