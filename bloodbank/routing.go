/*
routing.go - Assigns a new donation offer to exactly one hospital

POLICY (TieredRouter, first match wins at every tier):
  1. Need:     walk the roster; the first hospital whose own lot for the
               offered blood type holds fewer than Threshold units.
               A hospital's lot is the one whose location equals the
               hospital's display name.
  2. Locality: take one keyword from the donor's location (a known city
               if one appears in it, else its first word) and pick the
               first hospital whose address contains it.
  3. Default:  the first hospital in the roster.

  An empty roster is the only case that yields no route. There is no
  scoring: roster order is the tie-break at every tier.

The decision is made once, when the offer is created.
*/
package bloodbank

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RouteTier records which rule picked the hospital.
type RouteTier string

const (
	RouteByNeed     RouteTier = "need"
	RouteByLocality RouteTier = "locality"
	RouteByDefault  RouteTier = "default"
)

// Route is the routing decision for one offer.
type Route struct {
	HospitalID  int64
	DisplayName string
	Tier        RouteTier
}

// RoutingStrategy picks the hospital for an offer. ok is false only when
// no hospital could be chosen.
type RoutingStrategy interface {
	Route(ctx context.Context, donorLocation string, bt BloodType, hospitals []Hospital) (route Route, ok bool, err error)
}

// LotLookup is the slice of LedgerStore the router reads.
type LotLookup interface {
	FindLotByKey(ctx context.Context, bt BloodType, location string) (*InventoryLot, error)
}

// DefaultCityKeywords are matched case-insensitively against donor locations.
var DefaultCityKeywords = []string{
	"london", "manchester", "birmingham", "liverpool", "leeds",
	"sheffield", "bristol", "newcastle", "nottingham", "leicester",
	"glasgow", "edinburgh", "cardiff", "belfast",
}

// TieredRouter is the default RoutingStrategy.
type TieredRouter struct {
	Lots         LotLookup
	Threshold    int      // zero means LowStockThreshold
	CityKeywords []string // nil means DefaultCityKeywords
}

func NewTieredRouter(lots LotLookup) *TieredRouter {
	return &TieredRouter{Lots: lots}
}

func (r *TieredRouter) Route(ctx context.Context, donorLocation string, bt BloodType, hospitals []Hospital) (route Route, ok bool, err error) {
	ctx, span := startSpan(ctx, "routing.route", trace.WithAttributes(
		attribute.String("blood_type", bt.String()),
		attribute.Int("hospitals", len(hospitals)),
	))
	defer func() {
		if ok {
			span.SetAttributes(
				attribute.Int64("hospital_id", route.HospitalID),
				attribute.String("tier", string(route.Tier)),
			)
		}
		endSpan(span, err)
	}()

	if len(hospitals) == 0 {
		return Route{}, false, nil
	}

	threshold := r.Threshold
	if threshold <= 0 {
		threshold = LowStockThreshold
	}
	for _, h := range hospitals {
		lot, err := r.Lots.FindLotByKey(ctx, bt, h.DisplayName())
		if err != nil {
			return Route{}, false, fmt.Errorf("failed to read stock for hospital %d: %w", h.ID, err)
		}
		if lot != nil && lot.UnitsAvailable < threshold {
			return routeTo(h, RouteByNeed), true, nil
		}
	}

	keywords := r.CityKeywords
	if keywords == nil {
		keywords = DefaultCityKeywords
	}
	if kw := PriorityKeyword(donorLocation, keywords); kw != "" {
		for _, h := range hospitals {
			if strings.Contains(strings.ToLower(h.Address), kw) {
				return routeTo(h, RouteByLocality), true, nil
			}
		}
	}

	return routeTo(hospitals[0], RouteByDefault), true, nil
}

// PriorityKeyword returns the lower-cased keyword used for locality
// matching: the first known city contained in location, else the first
// whitespace-delimited word of location.
func PriorityKeyword(location string, cities []string) string {
	lower := strings.ToLower(location)
	for _, city := range cities {
		c := strings.ToLower(strings.TrimSpace(city))
		if c != "" && strings.Contains(lower, c) {
			return c
		}
	}
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func routeTo(h Hospital, tier RouteTier) Route {
	return Route{HospitalID: h.ID, DisplayName: h.DisplayName(), Tier: tier}
}
