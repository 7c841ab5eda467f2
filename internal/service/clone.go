package service

import (
	"encoding/json"

	"github.com/tripmate/tripmate-sync/internal/model"
)

// Store state never leaves the package by reference: everything handed to
// callers goes through these copies.

func copySession(sess model.ChatSession) model.ChatSession {
	msgs := make([]model.ChatMessage, len(sess.Messages))
	for i, m := range sess.Messages {
		msgs[i] = copyMessage(m)
	}
	sess.Messages = msgs
	return sess
}

func copyMessage(m model.ChatMessage) model.ChatMessage {
	if m.Card != nil {
		card := *m.Card
		if card.Actions != nil {
			card.Actions = append([]model.ChatAction(nil), card.Actions...)
		}
		m.Card = &card
	}
	if m.MapItems != nil {
		items := make([]model.MapItem, len(m.MapItems))
		for i, item := range m.MapItems {
			if item.Coords != nil {
				c := *item.Coords
				item.Coords = &c
			}
			items[i] = item
		}
		m.MapItems = items
	}
	if m.Suggestions != nil {
		m.Suggestions = append([]string(nil), m.Suggestions...)
	}
	return m
}

func copyPins(pins []model.Pin) []model.Pin {
	out := make([]model.Pin, len(pins))
	for i, pin := range pins {
		if pin.EventDate != nil {
			d := *pin.EventDate
			pin.EventDate = &d
		}
		out[i] = pin
	}
	return out
}

func copyTrip(trip model.Trip) model.Trip {
	trip.Places = append(make([]model.TripPlace, 0, len(trip.Places)), trip.Places...)
	trip.DailyTravelTimes = copyTravelTimes(trip.DailyTravelTimes)
	return trip
}

func copyTravelTimes(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for date, times := range in {
		out[date] = append(json.RawMessage(nil), times...)
	}
	return out
}
