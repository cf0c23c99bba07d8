package skinport

import (
	"time"
)

// Item is one entry of GET /items.
type Item struct {
	MarketHashName string   `json:"market_hash_name"`
	Currency       Currency `json:"currency"`
	SuggestedPrice *float64 `json:"suggested_price"`
	ItemPage       string   `json:"item_page"`
	MarketPage     string   `json:"market_page"`
	MinPrice       *float64 `json:"min_price"`
	MaxPrice       *float64 `json:"max_price"`
	MeanPrice      *float64 `json:"mean_price"`
	Quantity       int      `json:"quantity"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
}

func (i Item) Created() time.Time { return time.Unix(i.CreatedAt, 0) }
func (i Item) Updated() time.Time { return time.Unix(i.UpdatedAt, 0) }

func (i Item) String() string { return i.MarketHashName }

// ItemOutOfStock is one entry of GET /sales/out-of-stock.
type ItemOutOfStock struct {
	MarketHashName string   `json:"market_hash_name"`
	Version        *string  `json:"version"`
	Currency       Currency `json:"currency"`
	SuggestedPrice float64  `json:"suggested_price"`
	AvgSalePrice   float64  `json:"avg_sale_price"`
	SalesLast90d   int      `json:"sales_last_90d"`
}

// LastXDays aggregates the sales of a period. Prices are nil when nothing sold.
type LastXDays struct {
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Avg    *float64 `json:"avg"`
	Volume int      `json:"volume"`
}

// Sale is a single past sale.
type Sale struct {
	Price     float64  `json:"price"`
	WearValue *float64 `json:"wear_value"`
	SoldAt    int64    `json:"sold_at"`
}

// ItemWithSales is one entry of GET /sales/history.
type ItemWithSales struct {
	MarketHashName string    `json:"market_hash_name"`
	Version        *string   `json:"version"`
	Currency       Currency  `json:"currency"`
	ItemPage       string    `json:"item_page"`
	MarketPage     string    `json:"market_page"`
	Sales          []Sale    `json:"sales"`
	Last24Hours    LastXDays `json:"last_24_hours"`
	Last7Days      LastXDays `json:"last_7_days"`
	Last30Days     LastXDays `json:"last_30_days"`
	Last90Days     LastXDays `json:"last_90_days"`
}

// TransactionItem is an item sold or bought in a transaction.
type TransactionItem struct {
	SaleID         int64  `json:"sale_id"`
	MarketHashName string `json:"market_hash_name"`
	SellerCountry  string `json:"seller_country"`
	BuyerCountry   string `json:"buyer_country"`
}

// Transaction is an account movement. SubType, Fee and Items are only set for
// credits and purchases.
type Transaction struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	SubType   string            `json:"sub_type,omitempty"`
	Status    string            `json:"status"`
	Amount    float64           `json:"amount"`
	Fee       float64           `json:"fee,omitempty"`
	Currency  Currency          `json:"currency"`
	Items     []TransactionItem `json:"items,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Pagination describes one page of account transactions.
type Pagination struct {
	Page  int   `json:"page"`
	Pages int   `json:"pages"`
	Limit int   `json:"limit"`
	Order Order `json:"order"`
}

// TransactionPage is the body of GET /account/transactions.
type TransactionPage struct {
	Transactions []Transaction `json:"data"`
	Pagination   Pagination    `json:"pagination"`
}

// Tag is a searchable attribute of a listed item.
type Tag struct {
	Name          string `mapstructure:"name" json:"name"`
	NameLocalized string `mapstructure:"name_localized" json:"name_localized"`
}

// SaleFeed is the payload of the saleFeed channel.
type SaleFeed struct {
	EventType SaleFeedEventType `mapstructure:"eventType" json:"eventType"`
	Sales     []SaleFeedSale    `mapstructure:"sales" json:"sales"`
}

// SaleFeedSale is one listing or sale pushed by the feed. Prices are in minor
// units of Currency.
type SaleFeedSale struct {
	ID                   int64      `mapstructure:"id" json:"id"`
	SaleID               int64      `mapstructure:"saleId" json:"saleId"`
	ProductID            int64      `mapstructure:"productId" json:"productId"`
	AssetID              int64      `mapstructure:"assetId" json:"assetId"`
	ItemID               int64      `mapstructure:"itemId" json:"itemId"`
	AppID                AppID      `mapstructure:"appid" json:"appid"`
	SteamID              string     `mapstructure:"steamid" json:"steamid"`
	URL                  string     `mapstructure:"url" json:"url"`
	Family               string     `mapstructure:"family" json:"family"`
	FamilyLocalized      string     `mapstructure:"family_localized" json:"family_localized"`
	Name                 string     `mapstructure:"name" json:"name"`
	Title                string     `mapstructure:"title" json:"title"`
	Text                 string     `mapstructure:"text" json:"text"`
	MarketName           string     `mapstructure:"marketName" json:"marketName"`
	MarketHashName       string     `mapstructure:"marketHashName" json:"marketHashName"`
	Color                *Color     `mapstructure:"color" json:"color"`
	BgColor              *Color     `mapstructure:"bgColor" json:"bgColor"`
	Image                string     `mapstructure:"image" json:"image"`
	ClassID              string     `mapstructure:"classid" json:"classid"`
	AssetIDString        string     `mapstructure:"assetid" json:"assetid"`
	Lock                 *time.Time `mapstructure:"lock" json:"lock"`
	Version              string     `mapstructure:"version" json:"version"`
	VersionType          string     `mapstructure:"versionType" json:"versionType"`
	StackAble            bool       `mapstructure:"stackAble" json:"stackAble"`
	SuggestedPrice       int64      `mapstructure:"suggestedPrice" json:"suggestedPrice"`
	SalePrice            int64      `mapstructure:"salePrice" json:"salePrice"`
	Currency             Currency   `mapstructure:"currency" json:"currency"`
	SaleStatus           string     `mapstructure:"saleStatus" json:"saleStatus"`
	SaleType             SaleType   `mapstructure:"saleType" json:"saleType"`
	Category             string     `mapstructure:"category" json:"category"`
	CategoryLocalized    string     `mapstructure:"category_localized" json:"category_localized"`
	SubCategory          *string    `mapstructure:"subCategory" json:"subCategory"`
	SubCategoryLocalized *string    `mapstructure:"subCategory_localized" json:"subCategory_localized"`
	Pattern              *int64     `mapstructure:"pattern" json:"pattern"`
	Finish               *int64     `mapstructure:"finish" json:"finish"`
	CustomName           *string    `mapstructure:"customName" json:"customName"`
	Wear                 *float64   `mapstructure:"wear" json:"wear"`
	Link                 *string    `mapstructure:"link" json:"link"`
	Type                 string     `mapstructure:"type" json:"type"`
	Exterior             *Exterior  `mapstructure:"exterior" json:"exterior"`
	Rarity               string     `mapstructure:"rarity" json:"rarity"`
	RarityLocalized      string     `mapstructure:"rarity_localized" json:"rarity_localized"`
	RarityColor          *Color     `mapstructure:"rarityColor" json:"rarityColor"`
	Collection           *string    `mapstructure:"collection" json:"collection"`
	CollectionLocalized  *string    `mapstructure:"collection_localized" json:"collection_localized"`
	Stickers             []any      `mapstructure:"stickers" json:"stickers"`
	CanHaveScreenshots   bool       `mapstructure:"canHaveScreenshots" json:"canHaveScreenshots"`
	Screenshots          []any      `mapstructure:"screenshots" json:"screenshots"`
	Souvenir             bool       `mapstructure:"souvenir" json:"souvenir"`
	StatTrak             bool       `mapstructure:"stattrak" json:"stattrak"`
	Tags                 []Tag      `mapstructure:"tags" json:"tags"`
	OwnItem              bool       `mapstructure:"ownItem" json:"ownItem"`
}
