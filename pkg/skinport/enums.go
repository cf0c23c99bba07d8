package skinport

import (
	"fmt"
	"strconv"
	"strings"
)

// AppID selects the game whose market is addressed.
type AppID int

const (
	AppCSGO  AppID = 730
	AppDota2 AppID = 570
	AppRust  AppID = 252490
	AppTF2   AppID = 440
)

var appNames = map[AppID]string{
	AppCSGO:  "csgo",
	AppDota2: "dota2",
	AppRust:  "rust",
	AppTF2:   "tf2",
}

func (a AppID) String() string {
	if name, ok := appNames[a]; ok {
		return name
	}
	return fmt.Sprintf("app(%d)", int(a))
}

// ParseAppID accepts a game name (csgo, cs2, dota2, rust, tf2) or a numeric id.
func ParseAppID(s string) (AppID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "cs2" {
		return AppCSGO, nil
	}
	for id, name := range appNames {
		if name == s {
			return id, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return AppID(n), nil
	}
	return 0, fmt.Errorf("unknown app %q", s)
}

// Currency is an ISO 4217 code supported by Skinport.
type Currency string

const (
	CurrencyAUD Currency = "AUD"
	CurrencyBRL Currency = "BRL"
	CurrencyCAD Currency = "CAD"
	CurrencyCHF Currency = "CHF"
	CurrencyCNY Currency = "CNY"
	CurrencyCZK Currency = "CZK"
	CurrencyDKK Currency = "DKK"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyHRK Currency = "HRK"
	CurrencyNOK Currency = "NOK"
	CurrencyPLN Currency = "PLN"
	CurrencyRUB Currency = "RUB"
	CurrencySEK Currency = "SEK"
	CurrencyTRY Currency = "TRY"
	CurrencyUSD Currency = "USD"
)

var currencies = []Currency{
	CurrencyAUD, CurrencyBRL, CurrencyCAD, CurrencyCHF, CurrencyCNY, CurrencyCZK,
	CurrencyDKK, CurrencyEUR, CurrencyGBP, CurrencyHRK, CurrencyNOK, CurrencyPLN,
	CurrencyRUB, CurrencySEK, CurrencyTRY, CurrencyUSD,
}

func (c Currency) String() string { return string(c) }

func (c Currency) Valid() bool {
	for _, v := range currencies {
		if v == c {
			return true
		}
	}
	return false
}

// ParseCurrency is case-insensitive.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return c, nil
}

// Locale selects the language of localized texts in the sale feed.
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleDE Locale = "de"
	LocaleRU Locale = "ru"
	LocaleFR Locale = "fr"
	LocaleZH Locale = "zh"
	LocaleNL Locale = "nl"
	LocaleFI Locale = "fi"
	LocaleES Locale = "es"
	LocaleTR Locale = "tr"
)

var locales = []Locale{LocaleEN, LocaleDE, LocaleRU, LocaleFR, LocaleZH, LocaleNL, LocaleFI, LocaleES, LocaleTR}

func (l Locale) String() string { return string(l) }

func (l Locale) Valid() bool {
	for _, v := range locales {
		if v == l {
			return true
		}
	}
	return false
}

func ParseLocale(s string) (Locale, error) {
	l := Locale(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown locale %q", s)
	}
	return l, nil
}

type SaleType string

const (
	SaleTypePublic  SaleType = "public"
	SaleTypePrivate SaleType = "private"
)

// Exterior is the wear tier of a CS2 skin, as used in market hash names.
type Exterior string

const (
	FactoryNew    Exterior = "Factory New"
	MinimalWear   Exterior = "Minimal Wear"
	FieldTested   Exterior = "Field-Tested"
	WellWorn      Exterior = "Well-Worn"
	BattleScarred Exterior = "Battle-Scarred"
)

func (e Exterior) String() string { return string(e) }

// SteamStatus is the payload of the steamStatusUpdated channel.
type SteamStatus string

const (
	SteamOperational SteamStatus = "operational"
	SteamOffline     SteamStatus = "offline"
	SteamDegraded    SteamStatus = "degraded"
	SteamCritical    SteamStatus = "critical"
)

func (s SteamStatus) Valid() bool {
	switch s {
	case SteamOperational, SteamOffline, SteamDegraded, SteamCritical:
		return true
	}
	return false
}

// SaleFeedEventType tells whether the sales of a feed event were listed or sold.
type SaleFeedEventType string

const (
	EventListed SaleFeedEventType = "listed"
	EventSold   SaleFeedEventType = "sold"
)

// Order sorts account transactions.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)
