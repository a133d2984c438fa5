package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"limit-engine-go/infrastructure/logger"
	"limit-engine-go/price"
)

// QuoteWS 连接上游行情 combined stream，把报价推进 price.Feed。
// 仅提供最小骨架：连接 + 读取 + 解析；断线后指数退避重连。
type QuoteWS struct {
	Endpoint    string // 例如 wss://quotes.example.com
	Dialer      *websocket.Dialer
	instruments []string

	feed *price.Feed
	log  *logger.Logger
}

func NewQuoteWS(endpoint string, feed *price.Feed, log *logger.Logger) *QuoteWS {
	if log == nil {
		log = logger.Nop()
	}
	return &QuoteWS{
		Endpoint: endpoint,
		Dialer:   websocket.DefaultDialer,
		feed:     feed,
		log:      log,
	}
}

// Subscribe 注册需要订阅的标的，必须在 Run 之前调用。
func (g *QuoteWS) Subscribe(instrument string) error {
	if instrument == "" {
		return fmt.Errorf("instrument required")
	}
	g.instruments = append(g.instruments, strings.ToLower(instrument)+"@quote")
	return nil
}

// Run 建立连接并持续读取，ctx 取消后返回。
// 连接失败或读取出错时退避重连，报价缓存保持最后已知值。
func (g *QuoteWS) Run(ctx context.Context) error {
	if len(g.instruments) == 0 {
		return fmt.Errorf("no instruments subscribed")
	}
	backoff := time.Second
	for {
		err := g.readLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.log.Warn(fmt.Sprintf("quote stream disconnected: %v, retrying in %s", err, backoff))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (g *QuoteWS) readLoop(ctx context.Context) error {
	u := url.URL{
		Scheme: "wss",
		Host:   strings.TrimPrefix(g.Endpoint, "wss://"),
		Path:   "/stream",
	}
	q := u.Query()
	q.Set("streams", strings.Join(g.instruments, "/"))
	u.RawQuery = q.Encode()

	conn, _, err := g.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// ctx 取消时强制断开阻塞中的 ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		g.dispatch(message)
	}
}

func (g *QuoteWS) dispatch(raw []byte) {
	kind, err := StreamKind(raw)
	if err != nil {
		g.log.Warn(fmt.Sprintf("drop unparseable message: %v", err))
		return
	}
	switch kind {
	case StreamQuote:
		quote, err := ParseCombinedQuote(raw)
		if err != nil {
			g.log.Warn(fmt.Sprintf("drop bad quote: %v", err))
			return
		}
		g.feed.Push(quote)
	case StreamMarketStatus:
		instrument, open, err := ParseMarketStatus(raw)
		if err != nil {
			g.log.Warn(fmt.Sprintf("drop bad market status: %v", err))
			return
		}
		g.feed.SetMarketOpen(instrument, open)
	}
}
