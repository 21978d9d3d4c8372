package httpserver

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/Skotchmaster/tasks_app/internal/handlers"
	"github.com/Skotchmaster/tasks_app/internal/middleware"
	loggingmw "github.com/Skotchmaster/tasks_app/pkg/middleware/logging"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type Options struct {
	Logger      *slog.Logger
	CORSOrigins []string
	BodyLimit   string
	RateLimit   *middleware.RateLimitConfig
	// TrustedProxies lists the CIDRs allowed to set X-Forwarded-For. Empty
	// means the client address is always the socket peer.
	TrustedProxies []*net.IPNet
}

// ParseTrustedProxies accepts CIDRs or bare IPs.
func ParseTrustedProxies(values []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(values))
	for _, v := range values {
		if !strings.Contains(v, "/") {
			ip := net.ParseIP(v)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: invalid ip", v)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func ipExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// New builds the echo instance with the full middleware chain and routes.
func New(d *Deps, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.ErrorHandler
	e.Validator = handlers.NewValidator()
	e.IPExtractor = ipExtractor(opts.TrustedProxies)

	if opts.BodyLimit == "" {
		opts.BodyLimit = "1M"
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.Secure())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echomw.BodyLimit(opts.BodyLimit))
	if opts.Logger != nil {
		e.Use(loggingmw.RequestLogger(opts.Logger))
	}
	if d.Metrics != nil {
		e.Use(d.Metrics.Middleware())
	}
	if opts.RateLimit != nil {
		rl := *opts.RateLimit
		if rl.Metrics == nil {
			rl.Metrics = d.Metrics
		}
		if rl.Skipper == nil {
			rl.Skipper = func(c echo.Context) bool { return !strings.HasPrefix(c.Path(), "/api/") }
		}
		e.Use(middleware.RateLimit(rl))
	}

	Register(e, d)
	return e
}
