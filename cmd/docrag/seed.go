package main

import (
	"bufio"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
)

var sentences = []string{
	"Employees may work remotely up to three days per week.",
	"Remote days must be agreed with the team lead one week in advance.",
	"Home office equipment is reimbursed up to 400 euros per year.",
	"Expense reports are due by the fifth business day of the following month.",
	"Receipts are required for every expense above 25 euros.",
	"Travel must be booked through the approved travel portal.",
	"Economy class is the default for flights shorter than six hours.",
	"Hotel stays are capped at the per diem rate of the destination city.",
	"New hires receive their laptop on the first day of employment.",
	"Laptops are refreshed every three years or after a hardware failure.",
	"Passwords must be at least fourteen characters long.",
	"Multi-factor authentication is mandatory for all company accounts.",
	"Security incidents are reported to the security team within one hour.",
	"Customer data may not be copied to personal devices.",
	"Contracts above 50,000 euros require review by the legal department.",
	"Non-disclosure agreements are signed before any vendor evaluation.",
	"The fiscal year closes on the last day of December.",
	"Budget requests for the next year are submitted by the end of September.",
	"Purchase orders above 10,000 euros need approval from finance.",
	"Invoices are paid within thirty days of receipt.",
	"Annual leave is 25 days plus public holidays.",
	"Unused leave of up to five days carries over to the next year.",
	"Sick leave longer than three days requires a medical certificate.",
	"Parental leave is available to all employees after six months of service.",
	"Performance reviews take place twice a year, in June and December.",
	"Promotions are decided by a calibration committee after each review cycle.",
	"Training budgets are 1,500 euros per employee per year.",
	"Conference attendance counts against the training budget.",
	"Support tickets are answered within four business hours.",
	"Priority one incidents page the on-call engineer immediately.",
	"Production deployments are frozen during the last week of the year.",
	"Every change to production requires an approved pull request.",
	"Marketing campaigns are reviewed by legal before launch.",
	"Brand assets are available on the internal design portal.",
	"Sales discounts above twenty percent require director approval.",
	"Quarterly sales targets are published in the first week of each quarter.",
}

// linesFromFile returns an iterator over the non-blank lines of a file.
func linesFromFile(filename string) (iter.Seq[string], error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}, nil
}

// linesFromSlice returns an iterator over a slice of strings.
func linesFromSlice(lines []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, line := range lines {
			if !yield(line) {
				return
			}
		}
	}
}

// batchLines joins every size lines of source into one document body.
func batchLines(source iter.Seq[string], size int) iter.Seq[string] {
	return func(yield func(string) bool) {
		batch := make([]string, 0, size)
		for line := range source {
			batch = append(batch, line)
			if len(batch) == size {
				if !yield(strings.Join(batch, "\n")) {
					return
				}
				batch = batch[:0]
			}
		}

		// Remaining lines
		if len(batch) > 0 {
			yield(strings.Join(batch, "\n"))
		}
	}
}

func seedCommand(c *cli.Context) error {
	perDoc := c.Int("lines-per-document")
	if perDoc <= 0 {
		return fmt.Errorf("lines-per-document must be greater than 0")
	}

	var source iter.Seq[string]
	if src := c.String("src"); src != "" {
		var err error
		source, err = linesFromFile(src)
		if err != nil {
			return fmt.Errorf("failed to open seed data: %w", err)
		}
	} else {
		source = linesFromSlice(sentences)
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	department := c.String("department")
	var ids []string
	n := 0
	for body := range batchLines(source, perDoc) {
		n++
		doc, err := engine.SubmitDocument(c.Context, []byte(body), fmt.Sprintf("seed-%03d.txt", n), department)
		if err != nil {
			return fmt.Errorf("submit seed document %d: %w", n, err)
		}
		ids = append(ids, doc.ID)
	}
	engine.Wait()

	var errs []error
	completed := 0
	for _, id := range ids {
		doc, err := engine.GetDocument(c.Context, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if doc.ErrorMessage != "" {
			errs = append(errs, fmt.Errorf("%s: %s", doc.Filename, doc.ErrorMessage))
			continue
		}
		completed++
	}
	fmt.Fprintf(os.Stderr, "Seeded %d of %d documents into %s\n", completed, len(ids), department)
	return errors.Join(errs...)
}
