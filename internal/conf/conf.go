package conf

import "time"

// Bootstrap is the top-level configuration scanned from the YAML config file.
type Bootstrap struct {
	Server    *Server    `json:"server"`
	Data      *Data      `json:"data"`
	Shortener *Shortener `json:"shortener"`
	Consumer  *Consumer  `json:"consumer"`
}

// Duration is a time.ParseDuration-formatted string ("1s", "500ms").
type Duration string

// AsDuration parses the duration, returning def when unset or malformed.
func (d Duration) AsDuration(def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	v, err := time.ParseDuration(string(d))
	if err != nil {
		return def
	}
	return v
}

type Server struct {
	HTTP *ServerHTTP `json:"http"`
}

type ServerHTTP struct {
	Network string   `json:"network"`
	Addr    string   `json:"addr"`
	Timeout Duration `json:"timeout"`
}

type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
}

type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

type Redis struct {
	Addr         string   `json:"addr"`
	Password     string   `json:"password"`
	DB           int      `json:"db"`
	DialTimeout  Duration `json:"dial_timeout"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
}

// Shortener configures the request-path side: ID allocation, code encoding,
// the redirect cache and the click event topic.
//
// Changing HashSalt or MinCodeLength invalidates compatibility with short
// codes generated under the previous values. Treat both as frozen once the
// service has issued codes.
type Shortener struct {
	BaseURL       string   `json:"base_url"`
	CounterKey    string   `json:"counter_key"`
	IDBatchSize   int64    `json:"id_batch_size"`
	HashSalt      string   `json:"hash_salt"`
	MinCodeLength int      `json:"min_code_length"`
	CacheTTL      Duration `json:"cache_ttl"`
	ClickTopic    string   `json:"click_topic"`
}

// Consumer configures the click aggregation worker.
type Consumer struct {
	Topic      string   `json:"topic"`
	Group      string   `json:"group"`
	BatchCount int64    `json:"batch_count"`
	Block      Duration `json:"block"`
	IdleSleep  Duration `json:"idle_sleep"`
	RetrySleep Duration `json:"retry_sleep"`
}
