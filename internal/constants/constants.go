package constants

const USER_AGENT = "tickerlight/0.1.0 (+https://github.com/Amund211/tickerlight)"
