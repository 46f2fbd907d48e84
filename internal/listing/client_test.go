package listing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenMarketsPagesAndSkipsMalformed(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !strings.Contains(req.Query, "settled: false") {
			t.Errorf("query must filter unsettled markets")
		}
		cursor, _ := req.Variables["cursor"].(string)
		cursors = append(cursors, cursor)

		switch cursor {
		case "0":
			w.Write([]byte(`{"data":{"markets":[
				{"marketId":"1","claimStatement":" Will it rain? ","endTimestamp":"1800000000","createdAt":"10",
				 "marketGroup":{"address":"0x00000000000000000000000000000000000000b2","collateralAsset":"0x00000000000000000000000000000000000000c3"}},
				{"marketId":"2","claimStatement":"bad group","endTimestamp":"1800000000","createdAt":"11",
				 "marketGroup":{"address":"nope","collateralAsset":"0x00000000000000000000000000000000000000c3"}}
			]}}`))
		case "11":
			w.Write([]byte(`{"data":{"markets":[
				{"marketId":3,"claimStatement":"Will it snow?","endTimestamp":1800000001,"createdAt":12,
				 "marketGroup":{"address":"0x00000000000000000000000000000000000000b2","collateralAsset":"0x00000000000000000000000000000000000000c3"}}
			]}}`))
		default:
			t.Errorf("unexpected cursor %q", cursor)
			w.Write([]byte(`{"data":{"markets":[]}}`))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, " key ", nil)
	client.pageSize = 2

	markets, err := client.OpenMarkets(context.Background(), 0)
	if err != nil {
		t.Fatalf("open markets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}
	if markets[0].ID != 1 || markets[0].Claim != "Will it rain?" || markets[0].CreatedAt != 10 {
		t.Fatalf("unexpected first market: %+v", markets[0])
	}
	if markets[1].ID != 3 || markets[1].EndTime != 1800000001 {
		t.Fatalf("unexpected second market: %+v", markets[1])
	}
	if len(cursors) != 2 || cursors[1] != "11" {
		t.Fatalf("unexpected cursors: %v", cursors)
	}
}

func TestOpenMarketsGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null,"errors":[{"message":"indexer down"}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil).OpenMarkets(context.Background(), 0)
	if err == nil || !strings.Contains(err.Error(), "indexer down") {
		t.Fatalf("expected graphql error, got %v", err)
	}
}

func TestOpenMarketsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil).OpenMarkets(context.Background(), 0)
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Fatalf("expected status error, got %v", err)
	}
}
