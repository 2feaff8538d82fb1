package indicators

import "time"

// Direction of a signal event
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Sign returns +1, -1 or 0 for the direction
func (d Direction) Sign() int {
	switch d {
	case Bullish:
		return 1
	case Bearish:
		return -1
	default:
		return 0
	}
}

// Strength grades how pronounced a signal event is
type Strength string

const (
	Weak       Strength = "weak"
	Moderate   Strength = "moderate"
	Strong     Strength = "strong"
	VeryStrong Strength = "very_strong"
	Extreme    Strength = "extreme"
)

// EventType discriminates signal event variants
type EventType string

const (
	EventZone       EventType = "zone"        // oversold / overbought
	EventCrossover  EventType = "crossover"   // fast line crossed slow line
	EventZeroCross  EventType = "zero_cross"  // oscillator crossed zero
	EventDivergence EventType = "divergence"  // regular bullish/bearish divergence
	EventSaucer     EventType = "saucer"      // AO saucer
	EventTwinPeaks  EventType = "twin_peaks"  // AO twin peaks
	EventSqueeze    EventType = "squeeze"     // BB bandwidth contraction
	EventBreakout   EventType = "breakout"    // BB band break
	EventGoldenCross EventType = "golden_cross"
	EventDeathCross  EventType = "death_cross"
	EventKDCross     EventType = "kd_cross"   // stochastic / KDJ K-D cross
	EventJExtreme    EventType = "j_extreme"  // KDJ J beyond its band
	EventVolumeCross EventType = "volume_cross" // OBV crossed its average
)

// SignalEvent is a single discrete observation emitted by an indicator.
// Value carries the variant's scalar payload (the indicator reading that
// produced the event).
type SignalEvent struct {
	Indicator string    `json:"indicator"`
	Type      EventType `json:"type"`
	Direction Direction `json:"direction"`
	Strength  Strength  `json:"strength"`
	Value     float64   `json:"value"`
}

// Config carries the periods for a bundle computation. Zero values fall
// back to the conventional defaults.
type Config struct {
	RSIPeriod      int
	StochRSIPeriod int // RSI length feeding stoch-rsi
	StochRSIStoch  int // stochastic window over RSI
	StochRSIK      int
	StochRSID      int
	WilliamsPeriod int
	StochPeriod    int
	StochSmooth    int
	KDJPeriod      int
	KDJK           int
	KDJD           int
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
	BBPeriod       int
	BBStdDev       float64
	EMAPeriods     []int // fixed ladder
	EMAFast        int   // configurable triplet
	EMAMid         int
	EMASlow        int
	AOFast         int
	AOSlow         int
	OBVMAPeriod    int
	CMFPeriod      int
	ADXPeriod      int
	ATRPeriod      int
	DivLookback    int
}

// DefaultConfig returns the conventional period set
func DefaultConfig() Config {
	return Config{
		RSIPeriod:      14,
		StochRSIPeriod: 21,
		StochRSIStoch:  9,
		StochRSIK:      3,
		StochRSID:      3,
		WilliamsPeriod: 14,
		StochPeriod:    14,
		StochSmooth:    3,
		KDJPeriod:      9,
		KDJK:           3,
		KDJD:           3,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		BBPeriod:       20,
		BBStdDev:       2.0,
		EMAPeriods:     []int{9, 21, 50, 200},
		EMAFast:        9,
		EMAMid:         21,
		EMASlow:        50,
		AOFast:         5,
		AOSlow:         34,
		OBVMAPeriod:    20,
		CMFPeriod:      20,
		ADXPeriod:      14,
		ATRPeriod:      14,
		DivLookback:    30,
	}
}

// normalized fills zero fields with defaults
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = d.RSIPeriod
	}
	if c.StochRSIPeriod <= 0 {
		c.StochRSIPeriod = d.StochRSIPeriod
	}
	if c.StochRSIStoch <= 0 {
		c.StochRSIStoch = d.StochRSIStoch
	}
	if c.StochRSIK <= 0 {
		c.StochRSIK = d.StochRSIK
	}
	if c.StochRSID <= 0 {
		c.StochRSID = d.StochRSID
	}
	if c.WilliamsPeriod <= 0 {
		c.WilliamsPeriod = d.WilliamsPeriod
	}
	if c.StochPeriod <= 0 {
		c.StochPeriod = d.StochPeriod
	}
	if c.StochSmooth <= 0 {
		c.StochSmooth = d.StochSmooth
	}
	if c.KDJPeriod <= 0 {
		c.KDJPeriod = d.KDJPeriod
	}
	if c.KDJK <= 0 {
		c.KDJK = d.KDJK
	}
	if c.KDJD <= 0 {
		c.KDJD = d.KDJD
	}
	if c.MACDFast <= 0 {
		c.MACDFast = d.MACDFast
	}
	if c.MACDSlow <= 0 {
		c.MACDSlow = d.MACDSlow
	}
	if c.MACDSignal <= 0 {
		c.MACDSignal = d.MACDSignal
	}
	if c.BBPeriod <= 0 {
		c.BBPeriod = d.BBPeriod
	}
	if c.BBStdDev <= 0 {
		c.BBStdDev = d.BBStdDev
	}
	if len(c.EMAPeriods) == 0 {
		c.EMAPeriods = d.EMAPeriods
	}
	if c.EMAFast <= 0 {
		c.EMAFast = d.EMAFast
	}
	if c.EMAMid <= 0 {
		c.EMAMid = d.EMAMid
	}
	if c.EMASlow <= 0 {
		c.EMASlow = d.EMASlow
	}
	if c.AOFast <= 0 {
		c.AOFast = d.AOFast
	}
	if c.AOSlow <= 0 {
		c.AOSlow = d.AOSlow
	}
	if c.OBVMAPeriod <= 0 {
		c.OBVMAPeriod = d.OBVMAPeriod
	}
	if c.CMFPeriod <= 0 {
		c.CMFPeriod = d.CMFPeriod
	}
	if c.ADXPeriod <= 0 {
		c.ADXPeriod = d.ADXPeriod
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = d.ATRPeriod
	}
	if c.DivLookback <= 0 {
		c.DivLookback = d.DivLookback
	}
	return c
}

// RSIResult carries the latest RSI value and its events
type RSIResult struct {
	Value  float64       `json:"value"`
	Events []SignalEvent `json:"events,omitempty"`
}

// StochRSIResult carries smoothed K and D of the stochastic RSI
type StochRSIResult struct {
	K      float64       `json:"k"`
	D      float64       `json:"d"`
	Events []SignalEvent `json:"events,omitempty"`
}

// WilliamsRResult carries Williams %R (range [-100, 0])
type WilliamsRResult struct {
	Value  float64       `json:"value"`
	Events []SignalEvent `json:"events,omitempty"`
}

// StochasticResult carries %K and %D of the plain stochastic
type StochasticResult struct {
	K      float64       `json:"k"`
	D      float64       `json:"d"`
	Events []SignalEvent `json:"events,omitempty"`
}

// KDJResult carries the K, D and J lines
type KDJResult struct {
	K      float64       `json:"k"`
	D      float64       `json:"d"`
	J      float64       `json:"j"`
	Events []SignalEvent `json:"events,omitempty"`
}

// MACDResult carries the MACD line, signal line and histogram
type MACDResult struct {
	Line      float64       `json:"line"`
	Signal    float64       `json:"signal"`
	Histogram float64       `json:"histogram"`
	Events    []SignalEvent `json:"events,omitempty"`
}

// BollingerResult carries the band values plus %B and bandwidth
type BollingerResult struct {
	Upper     float64       `json:"upper"`
	Middle    float64       `json:"middle"`
	Lower     float64       `json:"lower"`
	PercentB  float64       `json:"percent_b"`
	Bandwidth float64       `json:"bandwidth"`
	Events    []SignalEvent `json:"events,omitempty"`
}

// EMAResult carries the EMA ladder plus the configurable triplet
type EMAResult struct {
	Values map[int]float64 `json:"values"` // period -> value
	Fast   float64         `json:"fast"`
	Mid    float64         `json:"mid"`
	Slow   float64         `json:"slow"`
	Events []SignalEvent   `json:"events,omitempty"`
}

// AOResult carries the Awesome Oscillator value
type AOResult struct {
	Value  float64       `json:"value"`
	Events []SignalEvent `json:"events,omitempty"`
}

// OBVResult carries OBV and its moving averages
type OBVResult struct {
	Value  float64       `json:"value"`
	WMA    float64       `json:"wma"`
	SMA    float64       `json:"sma"`
	Events []SignalEvent `json:"events,omitempty"`
}

// CMFResult carries the Chaikin Money Flow value
type CMFResult struct {
	Value  float64       `json:"value"`
	Events []SignalEvent `json:"events,omitempty"`
}

// ADXResult carries trend strength plus the directional lines
type ADXResult struct {
	Value   float64 `json:"value"`
	PlusDI  float64 `json:"plus_di"`
	MinusDI float64 `json:"minus_di"`
}

// ATRResult carries the average true range and its percent of close
type ATRResult struct {
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"` // ATR / close * 100
}

// Bundle is the fixed-shape output of one engine run over a candle tail.
// Bundles are pure values; their lifetime equals the request that produced
// them.
type Bundle struct {
	Time       time.Time       `json:"time"`
	Close      float64         `json:"close"`
	RSI        RSIResult       `json:"rsi"`
	StochRSI   StochRSIResult  `json:"stoch_rsi"`
	WilliamsR  WilliamsRResult `json:"williams_r"`
	Stochastic StochasticResult `json:"stochastic"`
	KDJ        KDJResult       `json:"kdj"`
	MACD       MACDResult      `json:"macd"`
	Bollinger  BollingerResult `json:"bollinger"`
	EMA        EMAResult       `json:"ema"`
	AO         AOResult        `json:"ao"`
	OBV        OBVResult       `json:"obv"`
	CMF        CMFResult       `json:"cmf"`
	ADX        ADXResult       `json:"adx"`
	ATR        ATRResult       `json:"atr"`
}

// Events returns every signal event in the bundle
func (b *Bundle) Events() []SignalEvent {
	var out []SignalEvent
	out = append(out, b.RSI.Events...)
	out = append(out, b.StochRSI.Events...)
	out = append(out, b.WilliamsR.Events...)
	out = append(out, b.Stochastic.Events...)
	out = append(out, b.KDJ.Events...)
	out = append(out, b.MACD.Events...)
	out = append(out, b.Bollinger.Events...)
	out = append(out, b.EMA.Events...)
	out = append(out, b.AO.Events...)
	out = append(out, b.OBV.Events...)
	out = append(out, b.CMF.Events...)
	return out
}

// Indicator names used as event sources and scoring keys
const (
	NameRSI        = "rsi"
	NameStochRSI   = "stoch_rsi"
	NameWilliamsR  = "williams_r"
	NameStochastic = "stochastic"
	NameKDJ        = "kdj"
	NameMACD       = "macd"
	NameBollinger  = "bollinger"
	NameEMA        = "ema"
	NameAO         = "ao"
	NameOBV        = "obv"
	NameCMF        = "cmf"
)
