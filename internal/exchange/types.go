package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signal-back/pkg/models"
)

// exchangeInfoResponse is the /fapi/v1/exchangeInfo payload, trimmed to
// the fields the universe filter needs.
type exchangeInfoResponse struct {
	Symbols []symbolInfoPayload `json:"symbols"`
}

type symbolInfoPayload struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	BaseAsset    string `json:"baseAsset"`
	QuoteAsset   string `json:"quoteAsset"`
	ContractType string `json:"contractType"`
}

// tickerPayload is one row of /fapi/v1/ticker/24hr. Numeric values arrive
// as strings on the wire.
type tickerPayload struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

func (p *tickerPayload) toModel() (*models.Ticker, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("ticker row without symbol")
	}

	var fp fieldParser
	ticker := &models.Ticker{
		Symbol:             p.Symbol,
		Price:              fp.float("lastPrice", p.LastPrice),
		PriceChange:        fp.float("priceChange", p.PriceChange),
		PriceChangePercent: fp.float("priceChangePercent", p.PriceChangePercent),
		Volume:             fp.float("volume", p.Volume),
		QuoteVolume:        fp.float("quoteVolume", p.QuoteVolume),
		High:               fp.float("highPrice", p.HighPrice),
		Low:                fp.float("lowPrice", p.LowPrice),
		Open:               fp.float("openPrice", p.OpenPrice),
		Timestamp:          time.UnixMilli(p.CloseTime),
	}
	if fp.err != nil {
		return nil, fmt.Errorf("ticker row for %s: %w", p.Symbol, fp.err)
	}
	ticker.Close = ticker.Price
	return ticker, nil
}

// streamEnvelope is the combined-stream wrapper: every message names the
// stream it came from.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerEvent is the <symbol>@ticker stream payload.
type tickerEvent struct {
	EventType          string `json:"e"`
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	LastPrice          string `json:"c"`
	OpenPrice          string `json:"o"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
}

func (e *tickerEvent) toModel() (*models.Ticker, error) {
	if e.Symbol == "" {
		return nil, fmt.Errorf("ticker event without symbol")
	}

	var fp fieldParser
	ticker := &models.Ticker{
		Symbol:             e.Symbol,
		Price:              fp.float("c", e.LastPrice),
		PriceChange:        fp.float("p", e.PriceChange),
		PriceChangePercent: fp.float("P", e.PriceChangePercent),
		Volume:             fp.float("v", e.Volume),
		QuoteVolume:        fp.float("q", e.QuoteVolume),
		High:               fp.float("h", e.HighPrice),
		Low:                fp.float("l", e.LowPrice),
		Open:               fp.float("o", e.OpenPrice),
		Timestamp:          time.UnixMilli(e.EventTime),
	}
	if fp.err != nil {
		return nil, fmt.Errorf("ticker event for %s: %w", e.Symbol, fp.err)
	}
	ticker.Close = ticker.Price
	return ticker, nil
}

// klineEvent is the <symbol>@kline_<interval> stream payload.
type klineEvent struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime    int64  `json:"t"`
	CloseTime   int64  `json:"T"`
	Symbol      string `json:"s"`
	Interval    string `json:"i"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	TradeCount  int64  `json:"n"`
	Closed      bool   `json:"x"`
	QuoteVolume string `json:"q"`
}

func (e *klineEvent) toModel() (*models.Candle, error) {
	tf, err := models.ParseTimeframe(e.Kline.Interval)
	if err != nil {
		return nil, fmt.Errorf("kline for %s: %w", e.Symbol, err)
	}
	return &models.Candle{
		Symbol:      e.Symbol,
		Timeframe:   tf,
		OpenTime:    time.UnixMilli(e.Kline.OpenTime),
		CloseTime:   time.UnixMilli(e.Kline.CloseTime),
		Open:        parseFloat(e.Kline.Open),
		High:        parseFloat(e.Kline.High),
		Low:         parseFloat(e.Kline.Low),
		Close:       parseFloat(e.Kline.Close),
		Volume:      parseFloat(e.Kline.Volume),
		QuoteVolume: parseFloat(e.Kline.QuoteVolume),
		TradeCount:  e.Kline.TradeCount,
	}, nil
}

// parseKlineRow converts one /fapi/v1/klines array entry. The REST API
// returns each bar as a positional mixed-type array.
func parseKlineRow(row []interface{}, symbol string, tf models.Timeframe) (*models.Candle, error) {
	if len(row) < 9 {
		return nil, fmt.Errorf("kline row has %d fields, want at least 9", len(row))
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return nil, fmt.Errorf("kline row open time is %T", row[0])
	}
	closeTime, ok := row[6].(float64)
	if !ok {
		return nil, fmt.Errorf("kline row close time is %T", row[6])
	}

	c := &models.Candle{
		Symbol:      symbol,
		Timeframe:   tf,
		OpenTime:    time.UnixMilli(int64(openTime)),
		CloseTime:   time.UnixMilli(int64(closeTime)),
		Open:        parseFloat(stringAt(row, 1)),
		High:        parseFloat(stringAt(row, 2)),
		Low:         parseFloat(stringAt(row, 3)),
		Close:       parseFloat(stringAt(row, 4)),
		Volume:      parseFloat(stringAt(row, 5)),
		QuoteVolume: parseFloat(stringAt(row, 7)),
	}
	if trades, ok := row[8].(float64); ok {
		c.TradeCount = int64(trades)
	}
	return c, nil
}

func stringAt(row []interface{}, i int) string {
	if s, ok := row[i].(string); ok {
		return s
	}
	return ""
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// fieldParser collects the first bad numeric field so ticker conversion
// can reject the whole row instead of defaulting fields to zero.
type fieldParser struct {
	err error
}

func (fp *fieldParser) float(name, s string) float64 {
	if fp.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fp.err = fmt.Errorf("field %s is %q", name, s)
		return 0
	}
	return v
}

// tickerStream names the 24h ticker stream for a symbol.
func tickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@ticker"
}

// klineStream names the candle stream for a symbol and interval.
func klineStream(symbol string, tf models.Timeframe) string {
	return strings.ToLower(symbol) + "@kline_" + string(tf)
}
