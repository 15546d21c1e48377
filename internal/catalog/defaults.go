package catalog

func f64(v float64) *float64 { return &v }

// Default returns the built-in feature catalog. Deployments that need a
// different registry load one from YAML instead.
func Default() *Catalog {
	c := &Catalog{
		Features: []FeatureDescriptor{
			{
				Name:        "amount",
				Type:        TypeNumber,
				Description: "Transaction amount in account currency units",
				Min:         f64(0),
				Max:         f64(1_000_000),
			},
			{
				Name:        "currency",
				Type:        TypeEnum,
				Description: "Settlement currency",
				Enum:        []string{"USD", "EUR", "GBP", "CAD", "AUD"},
			},
			{
				Name:        "device",
				Type:        TypeEnum,
				Description: "Device class the transaction originated from",
				Enum:        []string{"web", "mobile", "tablet"},
			},
			{
				Name:        "hour",
				Type:        TypeNumber,
				Description: "Hour of day the transaction occurred, UTC",
				Min:         f64(0),
				Max:         f64(23),
			},
			{
				Name:        "country",
				Type:        TypeString,
				Description: "ISO 3166-1 alpha-2 country of the transaction",
				MaxLength:   2,
			},
			{
				Name:        "merchant_category",
				Type:        TypeEnum,
				Description: "Merchant category of the transaction",
				Enum:        []string{"electronics", "travel", "gambling", "groceries", "jewelry", "digital_goods"},
				Nullable:    true,
			},
			{
				Name:        "is_international",
				Type:        TypeBoolean,
				Description: "Whether the transaction crosses the account's home country",
			},
			{
				Name:        "account_age_days",
				Type:        TypeNumber,
				Description: "Age of the paying account in days",
				Min:         f64(0),
				Max:         f64(36_500),
			},
			{
				Name:        "tx_count_24h",
				Type:        TypeNumber,
				Description: "Transactions seen on the account in the trailing 24 hours",
				Min:         f64(0),
				Max:         f64(100_000),
			},
			{
				Name:        "agent_id",
				Type:        TypeString,
				Description: "Identifier of the automated agent that placed the transaction, if any",
				MaxLength:   64,
				Nullable:    true,
			},
			{
				Name:        "email",
				Type:        TypeString,
				Description: "Account email address",
				MaxLength:   254,
				PII:         true,
			},
			{
				Name:        "ip_address",
				Type:        TypeString,
				Description: "Originating IP address",
				MaxLength:   45,
				PII:         true,
			},
			{
				Name:        "card_bin",
				Type:        TypeString,
				Description: "First six digits of the card number",
				MaxLength:   8,
				PII:         true,
			},
		},
	}
	c.buildIndex()
	return c
}
