package opencast

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"github.com/google/uuid"
)

type seriesDublinCore struct {
	XMLName    xml.Name `xml:"dublincore"`
	Xmlns      string   `xml:"xmlns,attr"`
	XmlnsTerms string   `xml:"xmlns:dcterms,attr"`
	Identifier string   `xml:"dcterms:identifier"`
	Title      string   `xml:"dcterms:title"`
}

func seriesCatalog(title string) (string, string, error) {
	id := uuid.NewString()
	out, err := xml.MarshalIndent(seriesDublinCore{
		Xmlns:      "http://www.opencastproject.org/xsd/1.0/dublincore/",
		XmlnsTerms: "http://purl.org/dc/terms/",
		Identifier: id,
		Title:      title,
	}, "", "  ")
	if err != nil {
		return "", "", err
	}
	return id, xml.Header + string(out), nil
}

var aclActions = []string{"read", "write"}

// xacmlPolicy renders the episode security policy for roles.
func xacmlPolicy(roles []string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<Policy PolicyId="mediapackage-policy" Version="2.0" RuleCombiningAlgId="urn:oasis:names:tc:xacml:1.0:rule-combining-algorithm:permit-overrides" xmlns="urn:oasis:names:tc:xacml:2.0:policy:schema:os">`)
	buf.WriteString(`<Target/>`)
	for _, role := range roles {
		for _, action := range aclActions {
			var escaped bytes.Buffer
			if err := xml.EscapeText(&escaped, []byte(role)); err != nil {
				return "", err
			}
			fmt.Fprintf(&buf, `<Rule RuleId="%s_%s_Permit" Effect="Permit">`, escaped.String(), action)
			fmt.Fprintf(&buf, `<Target><Actions><Action><ActionMatch MatchId="urn:oasis:names:tc:xacml:1.0:function:string-equal">`+
				`<AttributeValue DataType="http://www.w3.org/2001/XMLSchema#string">%s</AttributeValue>`+
				`<ActionAttributeDesignator AttributeId="urn:oasis:names:tc:xacml:1.0:action:action-id" DataType="http://www.w3.org/2001/XMLSchema#string"/>`+
				`</ActionMatch></Action></Actions></Target>`, action)
			fmt.Fprintf(&buf, `<Condition><Apply FunctionId="urn:oasis:names:tc:xacml:1.0:function:string-is-in">`+
				`<AttributeValue DataType="http://www.w3.org/2001/XMLSchema#string">%s</AttributeValue>`+
				`<SubjectAttributeDesignator AttributeId="urn:oasis:names:tc:xacml:2.0:subject:role" DataType="http://www.w3.org/2001/XMLSchema#string"/>`+
				`</Apply></Condition></Rule>`, escaped.String())
		}
	}
	buf.WriteString(`<Rule RuleId="DenyRule" Effect="Deny"/></Policy>`)
	return buf.String(), nil
}
