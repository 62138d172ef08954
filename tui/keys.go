package main

import (
	"strings"

	"tui/db"
)

// pageKeys jump straight to a tab, indexed like console.pages
var pageKeys = []string{"d", "p", "l"}

// commandBinding queues one daemon command from a single key
type commandBinding struct {
	key  string
	help string
	done string
	send func(*db.Client) error
}

var commandBindings = []commandBinding{
	{key: "i", help: "Import", done: "Import queued", send: (*db.Client).ImportNow},
	{key: "x", help: "Cleanup", done: "Cleanup queued", send: func(c *db.Client) error { return c.Cleanup("delete-imageless") }},
	{key: "f", help: "Fix URLs", done: "URL repair queued", send: func(c *db.Client) error { return c.Cleanup("fix-urls") }},
	{key: "z", help: "Pause", done: "Pause queued", send: (*db.Client).Pause},
	{key: "u", help: "Resume", done: "Resume queued", send: (*db.Client).Resume},
}

func lookupCommand(key string) (commandBinding, bool) {
	for _, b := range commandBindings {
		if b.key == key {
			return b, true
		}
	}
	return commandBinding{}, false
}

func pageForKey(key string) (int, bool) {
	for i, k := range pageKeys {
		if k == key {
			return i, true
		}
	}
	return 0, false
}

// helpLine lists every global key, page jumps first
func helpLine(titles []string) string {
	var parts []string
	for i, k := range pageKeys {
		if i < len(titles) {
			parts = append(parts, k+" "+titles[i])
		}
	}
	parts = append(parts, "tab Next", "r Refresh", "o URL")
	for _, b := range commandBindings {
		parts = append(parts, b.key+" "+b.help)
	}
	parts = append(parts, "q Quit")
	return strings.Join(parts, "  ")
}
