package main

import "github.com/JakeFAU/channel-discovery-crawler/internal/cli"

func main() {
	cli.Execute()
}
