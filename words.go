package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

// WordPair is one round's secret material: the majority of players
// share one word, the aware minority gets the other, wildcards get
// neither.
type WordPair struct {
	MajorityWord string `json:"majorityWord"`
	MinorityWord string `json:"minorityWord"`
}

// WordPairProvider supplies the pair for a new round. Any error makes
// the caller fall back to the built-in list.
type WordPairProvider func() (WordPair, error)

var fallbackWordPairs = []WordPair{
	{MajorityWord: "Cat", MinorityWord: "Dog"},
	{MajorityWord: "Pizza", MinorityWord: "Burger"},
	{MajorityWord: "Malaysia", MinorityWord: "Thailand"},
	{MajorityWord: "Snake", MinorityWord: "Eel"},
	{MajorityWord: "Guitar", MinorityWord: "Ukulele"},
}

func fallbackPair() WordPair {
	return fallbackWordPairs[rand.IntN(len(fallbackWordPairs))]
}

// httpPairProvider fetches a pair from an upstream word service
// returning {"majorityWord": ..., "minorityWord": ...}.
func httpPairProvider(url string) WordPairProvider {
	client := &http.Client{Timeout: 2 * time.Second}

	return func() (WordPair, error) {
		resp, err := client.Get(url)
		if err != nil {
			return WordPair{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return WordPair{}, fmt.Errorf("word api returned %s", resp.Status)
		}

		var pair WordPair
		if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
			return WordPair{}, err
		}
		if pair.MajorityWord == "" || pair.MinorityWord == "" {
			return WordPair{}, errors.New("word api returned an incomplete pair")
		}

		return pair, nil
	}
}
