// Package rewrite decides which URL references found in a scraped page are
// relocated to the local asset directories or swapped for a public CDN, and
// which are left alone. Matching is expressed as an ordered list of Rule
// values; the first rule that matches a reference wins.
package rewrite
