package marketplace

import "strconv"

type Paging struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Account is the authenticated seller returned by /users/me.
type Account struct {
	ID        int64  `json:"id"`
	Nickname  string `json:"nickname"`
	Email     string `json:"email"`
	SiteID    string `json:"site_id"`
	Permalink string `json:"permalink"`
}

type Item struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Price             float64   `json:"price"`
	CurrencyID        string    `json:"currency_id"`
	AvailableQuantity int       `json:"available_quantity"`
	SoldQuantity      int       `json:"sold_quantity"`
	Status            string    `json:"status"`
	Permalink         string    `json:"permalink"`
	Thumbnail         string    `json:"thumbnail"`
	CategoryID        string    `json:"category_id"`
	ListingTypeID     string    `json:"listing_type_id"`
	SellerID          int64     `json:"seller_id"`
	SellerCustomField *string   `json:"seller_custom_field"`
	Pictures          []Picture `json:"pictures,omitempty"`
}

type Picture struct {
	URL string `json:"secure_url"`
}

// SKU is the seller's own code for the listing, if any.
func (i Item) SKU() string {
	if i.SellerCustomField == nil {
		return ""
	}
	return *i.SellerCustomField
}

// ItemIDPage is a page of listing ids from /users/{id}/items/search.
type ItemIDPage struct {
	Results []string `json:"results"`
	Paging  Paging   `json:"paging"`
}

type Order struct {
	ID          int64       `json:"id"`
	Status      string      `json:"status"`
	DateCreated string      `json:"date_created"`
	DateClosed  string      `json:"date_closed,omitempty"`
	TotalAmount float64     `json:"total_amount"`
	PaidAmount  float64     `json:"paid_amount"`
	CurrencyID  string      `json:"currency_id"`
	Buyer       OrderBuyer  `json:"buyer"`
	OrderItems  []OrderItem `json:"order_items"`
}

type OrderBuyer struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}

type OrderItem struct {
	Item      OrderItemRef `json:"item"`
	Quantity  int          `json:"quantity"`
	UnitPrice float64      `json:"unit_price"`
	SaleFee   float64      `json:"sale_fee"`
}

type OrderItemRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type OrderPage struct {
	Results []Order `json:"results"`
	Paging  Paging  `json:"paging"`
}

type Question struct {
	ID          int64           `json:"id"`
	SellerID    int64           `json:"seller_id"`
	ItemID      string          `json:"item_id"`
	Text        string          `json:"text"`
	Status      string          `json:"status"`
	DateCreated string          `json:"date_created"`
	From        QuestionFrom    `json:"from"`
	Answer      *QuestionAnswer `json:"answer,omitempty"`
}

// QuestionStatusUnanswered is the status of a question still awaiting an answer.
const QuestionStatusUnanswered = "UNANSWERED"

func (q Question) IDString() string {
	return strconv.FormatInt(q.ID, 10)
}

type QuestionFrom struct {
	ID int64 `json:"id"`
}

type QuestionAnswer struct {
	Text        string `json:"text"`
	Status      string `json:"status"`
	DateCreated string `json:"date_created"`
}

type QuestionPage struct {
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
}

type SearchHit struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Price        float64      `json:"price"`
	CurrencyID   string       `json:"currency_id"`
	SoldQuantity int          `json:"sold_quantity"`
	Permalink    string       `json:"permalink"`
	Thumbnail    string       `json:"thumbnail"`
	Seller       SearchSeller `json:"seller"`
}

type SearchSeller struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}

type SearchPage struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
	Paging  Paging      `json:"paging"`
}
