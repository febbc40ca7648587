// Command markdown-crawler crawls sites into change-aware Markdown.
package main

import (
	"github.com/JakeFAU/markdown-crawler/cmd"
)

func main() {
	cmd.Execute()
}
