package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-recargo/internal/shopify"
)

// sendwebhook posts a signed orders/paid delivery to a running api, for
// exercising the webhook path without Shopify.
// Exit code 0 = 2xx response, 1 = other response, 2 = usage or transport error.
func main() {
	_ = godotenv.Load()

	url := flag.String("url", "http://localhost:3000/api/webhook/order-paid", "webhook endpoint")
	orderID := flag.Int64("order", 0, "numeric Shopify order id")
	name := flag.String("name", "", "order name, defaults to #<order>")
	tags := flag.String("tags", "RE", "customer tags; pass an empty value to send an ineligible order")
	shop := flag.String("shop", os.Getenv("SHOPIFY_STORE_URL"), "shop domain header")
	secret := flag.String("secret", os.Getenv("SHOPIFY_WEBHOOK_SECRET"), "webhook signing secret")
	surchargeLine := flag.String("surcharge", "", "include a surcharge line item with this price, e.g. 2.08")
	title := flag.String("title", "Recargo de Equivalencia (5.2%)", "surcharge line item title")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Parse()

	if *orderID <= 0 || *secret == "" {
		fmt.Fprintln(os.Stderr, "sendwebhook: -order and -secret (or SHOPIFY_WEBHOOK_SECRET) are required")
		flag.Usage()
		os.Exit(2)
	}

	body, err := payload(*orderID, *name, *tags, lineItems(*title, *surchargeLine)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sendwebhook: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	req, err := newRequest(ctx, *url, *shop, *secret, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sendwebhook: %v\n", err)
		os.Exit(2)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sendwebhook: %v\n", err)
		os.Exit(2)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	fmt.Printf("%s\n%s\n", resp.Status, out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		os.Exit(1)
	}
}

type customer struct {
	ID   int64  `json:"id"`
	Tags string `json:"tags"`
}

type lineItem struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
}

type order struct {
	ID                int64      `json:"id"`
	AdminGraphQLAPIID string     `json:"admin_graphql_api_id"`
	Name              string     `json:"name"`
	FinancialStatus   string     `json:"financial_status"`
	Customer          customer   `json:"customer"`
	LineItems         []lineItem `json:"line_items"`
}

// lineItems returns a sample goods line, plus a surcharge line when price is set.
func lineItems(title, price string) []lineItem {
	items := []lineItem{{Title: "Camiseta", Price: "40.00", Quantity: 1}}
	if price != "" {
		items = append(items, lineItem{Title: title, Price: price, Quantity: 1})
	}
	return items
}

func payload(orderID int64, name, tags string, items ...lineItem) ([]byte, error) {
	if name == "" {
		name = "#" + strconv.FormatInt(orderID, 10)
	}
	return json.Marshal(order{
		ID:                orderID,
		AdminGraphQLAPIID: shopify.GID(shopify.ResourceOrder, strconv.FormatInt(orderID, 10)),
		Name:              name,
		FinancialStatus:   "paid",
		Customer:          customer{ID: 1, Tags: tags},
		LineItems:         items,
	})
}

func newRequest(ctx context.Context, url, shop, secret string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shopify.HeaderTopic, "orders/paid")
	req.Header.Set(shopify.HeaderHMAC, shopify.Sign(secret, body))
	req.Header.Set(shopify.HeaderWebhookID, uuid.NewString())
	if shop != "" {
		req.Header.Set(shopify.HeaderShop, shop)
	}
	return req, nil
}
