package theme

import "fmt"

// Banner returns the startup banner.
func Banner() string {
	const cyan = "\033[36m"
	const yellow = "\033[33m"
	const reset = "\033[0m"

	return "" +
		"  " + cyan + "⌂ FLATSEEK" + reset + "\n" +
		yellow + "  ───────────────────────────────\n" + reset +
		"  flat-share outreach on a schedule\n"
}

// PrintBanner prints the banner to stdout.
func PrintBanner() {
	fmt.Print(Banner())
}
